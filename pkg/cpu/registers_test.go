package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBankingRoundTrip(t *testing.T) {
	// spec.md 8: entering a mode and exiting with no intervening writes to
	// banked registers restores the original register file bit-exactly.
	r := NewRegisters(Addr32Bit)
	r.SetCPSR(PSR{Mode: ModeUser})
	for i := uint32(0); i < 15; i++ {
		r.Write(i, 0x1000+i)
	}
	before := r.SnapshotRegisters()

	r.EnterMode(ModeIRQ, 0xDEAD0000)
	assert.Equal(t, ModeIRQ, r.Mode())
	require.NoError(t, r.ReturnFromException())

	after := r.SnapshotRegisters()
	assert.Equal(t, before, after)
}

func TestFIQBanksR8ThroughR12(t *testing.T) {
	r := NewRegisters(Addr32Bit)
	r.SetCPSR(PSR{Mode: ModeUser})
	r.Write(8, 0xAAAA)
	r.EnterMode(ModeFIQ, 0)
	r.Write(8, 0xBBBB)
	require.NoError(t, r.ReturnFromException())
	assert.Equal(t, uint32(0xAAAA), r.Read(8))
}

func TestIRQAndSVCHaveIndependentBanks(t *testing.T) {
	r := NewRegisters(Addr32Bit)
	r.SetCPSR(PSR{Mode: ModeSVC})
	r.Write(13, 0x1111)
	r.SetCPSR(PSR{Mode: ModeIRQ})
	r.Write(13, 0x2222)
	r.SetCPSR(PSR{Mode: ModeSVC})
	assert.Equal(t, uint32(0x1111), r.Read(13))
	r.SetCPSR(PSR{Mode: ModeIRQ})
	assert.Equal(t, uint32(0x2222), r.Read(13))
}

func TestUserAndSystemShareBank(t *testing.T) {
	r := NewRegisters(Addr32Bit)
	r.SetCPSR(PSR{Mode: ModeUser})
	r.Write(13, 0x4000)
	r.SetCPSR(PSR{Mode: ModeSystem})
	assert.Equal(t, uint32(0x4000), r.Read(13))
}

func TestPackUnpackPSR26RoundTrip(t *testing.T) {
	r := NewRegisters(Addr26Bit)
	r.SetCPSR(PSR{N: true, C: true, Mode: ModeSVC})
	r.SetPC(0x8000)
	packed := r.PackPSR26()
	r2 := NewRegisters(Addr26Bit)
	r2.UnpackPSR26(packed)
	assert.Equal(t, r.CPSR(), r2.CPSR())
	assert.Equal(t, r.Read(15), r2.Read(15))
}

func TestReadPCReflectsPrefetch(t *testing.T) {
	r := NewRegisters(Addr32Bit)
	r.SetPC(0x8000)
	assert.Equal(t, uint32(0x8008), r.ReadPC())
}
