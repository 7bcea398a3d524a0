package smc

// Baseline HANA/ANA register images. The companion chip answers SMBus reads
// from the SMC; only a handful of registers hold meaningful power-on values,
// the rest reset to zero. Register 0xFE carries the chip revision
// fingerprint the kernel uses to tell console generations apart.
var fatHANABase = map[uint8]uint32{
	0x00: 0x00000006,
	0x01: 0x00010001,
	0x02: 0x000000A0,
	0x58: 0x00000000,
	0x70: 0x00000200,
	0xD8: 0x00000000,
	0xFE: 0x00000021,
}

var slimHANABase = map[uint8]uint32{
	0x00: 0x00000006,
	0x01: 0x00010001,
	0x02: 0x000000C0,
	0x70: 0x00000300,
	0xD8: 0x00000001,
	0xFE: 0x00000023,
}

// hanaImage builds the power-on register file. A non-zero fingerprint
// replaces the image default in register 0xFE; zero keeps it (Zephyr).
func hanaImage(slim bool, fingerprint uint8) [256]uint32 {
	base := fatHANABase
	if slim {
		base = slimHANABase
	}
	var regs [256]uint32
	for idx, value := range base {
		regs[idx] = value
	}
	if fingerprint != 0 {
		regs[0xFE] = uint32(fingerprint)
	}
	return regs
}
