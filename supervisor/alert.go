// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// Alerter notifies operators of failed iterations.
type Alerter interface {
	Alert(subject, body string) error
}

// Mailer sends alerts by mail.
type Mailer struct {
	Usr  string
	Pwd  string
	Srv  string
	Port int
	Tgts []string
}

// MailerFromEnv returns a Mailer configured from the MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment
// variables.
func MailerFromEnv() (*Mailer, error) {
	var port int
	if v := os.Getenv("MAIL_PORT"); v != "" {
		p, err := strconv.ParseUint(v, 10, 16)
		if err != nil || p == 0 {
			return nil, fmt.Errorf("supervisor: invalid MAIL_PORT %q", v)
		}
		port = int(p)
	}

	var tgts []string
	if v := os.Getenv("MAIL_TGTS"); v != "" {
		tgts = strings.Split(v, ",")
	}
	return &Mailer{
		Usr:  os.Getenv("MAIL_USERNAME"),
		Pwd:  os.Getenv("MAIL_PASSWORD"),
		Srv:  os.Getenv("MAIL_SERVER"),
		Port: port,
		Tgts: tgts,
	}, nil
}

func (m *Mailer) Alert(subject, body string) error {
	if m.Usr == "" || m.Pwd == "" ||
		m.Srv == "" || m.Port == 0 ||
		len(m.Tgts) == 0 {
		return fmt.Errorf("supervisor: could not send mail alert: missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", "[etroc] "+subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("supervisor: could not send mail alert: %w", err)
	}
	return nil
}
