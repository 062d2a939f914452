// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package etroc2

func fld(blk Block, reg int, off, width uint8, name string) Field {
	return Field{Name: name, Block: blk, Reg: reg, Offset: off, Width: width}
}

// trigger and readout windows of a pixel, 10 bits each, packed from PixCfg[10].
var windows = []string{
	"lowerCal", "upperCal",
	"lowerTOA", "upperTOA",
	"lowerTOT", "upperTOT",
	"lowerCalTrig", "upperCalTrig",
	"lowerTOATrig", "upperTOATrig",
	"lowerTOTTrig", "upperTOTTrig",
}

// Windows returns the names of the trigger and readout window fields of
// the pixel configuration.
func Windows() []string {
	return append([]string(nil), windows...)
}

func catalog() []Field {
	fs := []Field{
		// peripheral configuration.
		fld(PeriCfg, 0, 0, 1, "PLL_ClkGen_disCLK"),
		fld(PeriCfg, 0, 1, 1, "PLL_ClkGen_disDES"),
		fld(PeriCfg, 0, 2, 1, "PLL_ClkGen_disEOM"),
		fld(PeriCfg, 0, 3, 1, "PLL_ClkGen_disSER"),
		fld(PeriCfg, 0, 4, 1, "PLL_ClkGen_disVCO"),
		fld(PeriCfg, 0, 5, 1, "CLKSel"),
		fld(PeriCfg, 0, 6, 1, "PLL_FBDiv_clkTreeDisable"),
		fld(PeriCfg, 0, 7, 1, "PLL_FBDiv_skip"),
		fld(PeriCfg, 1, 0, 4, "PLL_BIASGEN_CONFIG"),
		fld(PeriCfg, 1, 4, 4, "PLL_CONFIG_I_PLL"),
		fld(PeriCfg, 2, 0, 4, "PLL_CONFIG_P_PLL"),
		fld(PeriCfg, 2, 4, 4, "PLL_R_CONFIG"),
		fld(PeriCfg, 3, 0, 4, "PLL_vcoDAC"),
		fld(PeriCfg, 3, 4, 1, "PLL_vcoRailMode"),
		fld(PeriCfg, 3, 5, 1, "PLL_ENABLEPLL"),
		fld(PeriCfg, 4, 0, 4, "PS_CPCurrent"),
		fld(PeriCfg, 4, 4, 1, "PS_CapRst"),
		fld(PeriCfg, 4, 5, 1, "PS_Enable"),
		fld(PeriCfg, 4, 6, 1, "PS_ForceDown"),
		fld(PeriCfg, 4, 7, 1, "TS_PD"),
		fld(PeriCfg, 5, 0, 8, "PS_PhaseAdj"),
		fld(PeriCfg, 6, 0, 8, "RefStrSel"),
		fld(PeriCfg, 7, 0, 1, "CLK40_EnRx"),
		fld(PeriCfg, 7, 1, 1, "CLK40_EnTer"),
		fld(PeriCfg, 7, 2, 1, "CLK40_InvData"),
		fld(PeriCfg, 7, 3, 1, "CLK40_SetCM"),
		fld(PeriCfg, 7, 4, 1, "CLK1280_EnRx"),
		fld(PeriCfg, 7, 5, 1, "CLK1280_EnTer"),
		fld(PeriCfg, 7, 6, 1, "CLK1280_InvData"),
		fld(PeriCfg, 7, 7, 1, "CLK1280_SetCM"),
		fld(PeriCfg, 8, 0, 1, "FC_EnRx"),
		fld(PeriCfg, 8, 1, 1, "FC_EnTer"),
		fld(PeriCfg, 8, 2, 1, "FC_InvData"),
		fld(PeriCfg, 8, 3, 1, "FC_SetCM"),
		fld(PeriCfg, 8, 4, 1, "disPowerSequence"),
		fld(PeriCfg, 8, 5, 1, "softBoot"),
		fld(PeriCfg, 8, 6, 1, "fcSelfAlignEn"),
		fld(PeriCfg, 8, 7, 1, "fcClkDelayEn"),
		fld(PeriCfg, 9, 0, 1, "fcDataDelayEn"),
		fld(PeriCfg, 9, 1, 1, "fcBitAlignStart"),
		fld(PeriCfg, 9, 2, 5, "chargeInjectionDelay"),
		fld(PeriCfg, 10, 0, 12, "BCIDoffset"),
		fld(PeriCfg, 11, 4, 1, "asyAlignFastcommand"),
		fld(PeriCfg, 11, 5, 1, "asyLinkReset"),
		fld(PeriCfg, 11, 6, 1, "asyPLLReset"),
		fld(PeriCfg, 11, 7, 1, "asyResetChargeInj"),
		fld(PeriCfg, 12, 0, 12, "emptySlotBCID"),
		fld(PeriCfg, 13, 4, 1, "asyResetFastcommand"),
		fld(PeriCfg, 13, 5, 1, "asyResetGlobalReadout"),
		fld(PeriCfg, 13, 6, 1, "asyResetLockDetect"),
		fld(PeriCfg, 13, 7, 1, "asyStartCalibration"),
		fld(PeriCfg, 14, 0, 5, "readoutClockDelayPixel"),
		fld(PeriCfg, 14, 5, 2, "onChipL1AConf"),
		fld(PeriCfg, 14, 7, 1, "disLTx"),
		fld(PeriCfg, 15, 0, 5, "readoutClockWidthPixel"),
		fld(PeriCfg, 15, 5, 1, "disRTx"),
		fld(PeriCfg, 15, 6, 1, "singlePort"),
		fld(PeriCfg, 15, 7, 1, "mergeTriggerData"),
		fld(PeriCfg, 16, 0, 5, "readoutClockDelayGlobal"),
		fld(PeriCfg, 16, 5, 2, "serRateLeft"),
		fld(PeriCfg, 16, 7, 1, "disScrambler"),
		fld(PeriCfg, 17, 0, 5, "readoutClockWidthGlobal"),
		fld(PeriCfg, 17, 5, 2, "serRateRight"),
		fld(PeriCfg, 17, 7, 1, "linkResetFixedPattern"),
		fld(PeriCfg, 18, 0, 3, "triggerGranularity"),
		fld(PeriCfg, 18, 3, 1, "TDCRawData"),
		fld(PeriCfg, 18, 4, 1, "TDCClockTest"),
		fld(PeriCfg, 18, 5, 1, "TDCStrobeTest"),
		fld(PeriCfg, 18, 6, 1, "LTx_AmplSel"),
		fld(PeriCfg, 18, 7, 1, "RTx_AmplSel"),
		fld(PeriCfg, 19, 0, 9, "L1Adelay"),
		fld(PeriCfg, 20, 1, 7, "linkResetTestPattern"),
		fld(PeriCfg, 21, 0, 8, "lfLockThrCounter"),
		fld(PeriCfg, 22, 0, 8, "lfReLockThrCounter"),
		fld(PeriCfg, 23, 0, 8, "lfUnLockThrCounter"),
		fld(PeriCfg, 24, 0, 32, "EFuse_Prog"),
		fld(PeriCfg, 28, 0, 4, "EFuse_TCKHP"),
		fld(PeriCfg, 28, 4, 1, "EFuse_EnClk"),
		fld(PeriCfg, 28, 5, 2, "EFuse_Mode"),
		fld(PeriCfg, 28, 7, 1, "EFuse_Rstn"),
		fld(PeriCfg, 29, 0, 1, "EFuse_Start"),
		fld(PeriCfg, 30, 0, 8, "integLimit"),
		fld(PeriCfg, 31, 0, 1, "VRefGen_PD"),
		fld(PeriCfg, 31, 1, 1, "TS_PD_Sel"),

		// peripheral status.
		fld(PeriSta, 0, 0, 1, "PS_Late"),
		fld(PeriSta, 0, 1, 6, "AFCcalCap"),
		fld(PeriSta, 0, 7, 1, "AFCBusy"),
		fld(PeriSta, 1, 0, 4, "fcAlignFinalState"),
		fld(PeriSta, 1, 4, 4, "controllerState"),
		fld(PeriSta, 2, 0, 4, "fcAlignStatus"),
		fld(PeriSta, 3, 0, 12, "invalidFCCount"),
		fld(PeriSta, 5, 0, 12, "pllUnlockCount"),
		fld(PeriSta, 7, 0, 32, "EFuseQ"),

		// pixel window selectors.
		fld(Indexer, 0, 0, 4, "row"),
		fld(Indexer, 0, 4, 4, "column"),
		fld(Indexer, 1, 0, 1, "broadcast"),

		// pixel configuration.
		fld(PixCfg, 0, 0, 2, "CLSel"),
		fld(PixCfg, 0, 2, 2, "RfSel"),
		fld(PixCfg, 0, 4, 4, "HysSel"),
		fld(PixCfg, 1, 0, 3, "IBSel"),
		fld(PixCfg, 1, 3, 5, "QSel"),
		fld(PixCfg, 2, 0, 1, "PD_DACDiscri"),
		fld(PixCfg, 2, 1, 1, "QInjEn"),
		fld(PixCfg, 3, 0, 1, "RSTn_THCal"),
		fld(PixCfg, 3, 1, 1, "ScanStart_THCal"),
		fld(PixCfg, 3, 2, 1, "BufEn_THCal"),
		fld(PixCfg, 3, 3, 1, "Bypass_THCal"),
		fld(PixCfg, 3, 4, 1, "CLKEn_THCal"),
		fld(PixCfg, 4, 0, 10, "DAC"),
		fld(PixCfg, 5, 2, 6, "TH_offset"),
		fld(PixCfg, 6, 0, 1, "TDC_testMode"),
		fld(PixCfg, 6, 1, 1, "TDC_autoReset"),
		fld(PixCfg, 6, 2, 1, "enable_TDC"),
		fld(PixCfg, 6, 3, 3, "TDC_level"),
		fld(PixCfg, 6, 6, 1, "TDC_resetn"),
		fld(PixCfg, 6, 7, 1, "TDC_timeStampMode"),
		fld(PixCfg, 7, 0, 2, "workMode"),
		fld(PixCfg, 7, 2, 1, "disDataReadout"),
		fld(PixCfg, 7, 3, 1, "disTrigPath"),
		fld(PixCfg, 7, 4, 1, "addrOffset"),
		fld(PixCfg, 8, 0, 9, "L1Adelay"),
		fld(PixCfg, 9, 1, 7, "selfTestOccupancy"),

		// pixel status.
		fld(PixSta, 0, 0, 4, "PixelID_col"),
		fld(PixSta, 0, 4, 4, "PixelID_row"),
		fld(PixSta, 1, 0, 3, "THState"),
		fld(PixSta, 1, 3, 4, "NW"),
		fld(PixSta, 1, 7, 1, "ScanDone"),
		fld(PixSta, 2, 0, 10, "BL"),
		fld(PixSta, 4, 0, 10, "TH"),
		fld(PixSta, 6, 0, 16, "ACC"),

		// waveform sampler.
		fld(WSCfg, 0, 0, 1, "mem_rstn"),
		fld(WSCfg, 0, 1, 1, "clk_gen_rstn"),
		fld(WSCfg, 0, 2, 1, "sel1"),
		fld(WSCfg, 0, 3, 1, "sel2"),
		fld(WSCfg, 0, 4, 1, "sel3"),
		fld(WSCfg, 0, 5, 1, "rd_en_I2C"),
		fld(WSCfg, 0, 6, 1, "ws_testen"),
		fld(WSCfg, 1, 0, 11, "rd_addr"),
		fld(WSCfg, 3, 0, 8, "DDLL_code"),
		fld(WSSta, 0, 0, 14, "dout"),
	}

	for i, name := range windows {
		bit := i * 10
		fs = append(fs, fld(PixCfg, 10+bit/8, uint8(bit%8), 10, name))
	}

	return fs
}
