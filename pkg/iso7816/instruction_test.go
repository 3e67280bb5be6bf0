package iso7816

import (
	"strings"
	"testing"
)

func TestNewInstruction(t *testing.T) {
	tests := []struct {
		name       string
		ins        InsCode
		wantErr    bool
		wantBER    bool
		wantManage bool
	}{
		{name: "SELECT", ins: 0xA4},
		{name: "MANAGE CHANNEL", ins: 0x70, wantManage: true},
		{name: "GET RESPONSE", ins: 0xC0},
		{name: "ENABLE VERIFICATION REQUIREMENT", ins: 0x28},
		{name: "Read Binary BER-TLV", ins: 0b1011_0001, wantBER: true},
		{name: "Reserved 6X", ins: 0x6A, wantErr: true},
		{name: "Reserved 9X", ins: 0x90, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewInstruction(tt.ins)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewInstruction(0x%02X) error = %v, wantErr %v", byte(tt.ins), err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Raw != tt.ins {
				t.Errorf("Raw = %v, want %v", got.Raw, tt.ins)
			}
			if got.IsBERTLV != tt.wantBER {
				t.Errorf("IsBERTLV = %v, want %v", got.IsBERTLV, tt.wantBER)
			}
			if got.IsChannelManagement() != tt.wantManage {
				t.Errorf("IsChannelManagement() = %v, want %v", got.IsChannelManagement(), tt.wantManage)
			}
		})
	}
}

func TestInsCode_String(t *testing.T) {
	tests := map[InsCode]string{
		INS_MANAGE_CHANNEL: "INS_MANAGE_CHANNEL",
		INS_GET_RESPONSE:   "INS_GET_RESPONSE",
		0x29:               "InsCode(0x29)",
	}
	for ins, want := range tests {
		if got := ins.String(); got != want {
			t.Errorf("InsCode(0x%02X).String() = %q, want %q", byte(ins), got, want)
		}
	}
}

func TestInstruction_Verbose(t *testing.T) {
	tests := []struct {
		ins      InsCode
		contains []string
	}{
		{INS_MANAGE_CHANNEL, []string{"INS: 0x70", "Command: INS_MANAGE_CHANNEL", "Format: Standard"}},
		{INS_GET_DATA_BER, []string{"INS: 0xCB", "Command: INS_GET_DATA_BER", "Format: BER-TLV"}},
	}

	for _, tt := range tests {
		i, _ := NewInstruction(tt.ins)
		desc := i.Verbose()
		for _, part := range tt.contains {
			if !strings.Contains(desc, part) {
				t.Errorf("Verbose() = %q; want containing %q", desc, part)
			}
		}
	}
}
