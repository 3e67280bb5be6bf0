package commands

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--virtual", "--log-level", "disabled", "--poll-interval", "10ms"}, args...))
	t.Cleanup(func() {
		sendReader, sendAID, sendP2, sendBasic, sendNext = "", "", "00", false, false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReaders(t *testing.T) {
	out, err := run(t, "readers")
	if err != nil {
		t.Fatalf("readers: %v", err)
	}

	want := []string{
		"SIM Virtual UICC 0\tempty",
		"Virtual eSE 0\tATR 3B 8A 80 01 80 31 80 65 B0 85 03 00 EF 12",
	}
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Errorf("output misses %q:\n%s", line, out)
		}
	}
}

func TestSend(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{
			name: "Logical channel",
			args: []string{"send", "--aid", "A000000063504B43532D3135", "00280000"},
			want: "<- 90 00",
		},
		{
			name: "Basic channel",
			args: []string{"send", "--basic", "--aid", "A0 00 00 00 63", "--p2", "0x0C", "00 84 00 00 08"},
			want: "<- 01 23 45 67 89 AB CD EF 90 00",
		},
		{
			name: "Select response",
			args: []string{"send", "--aid", "A000000063504B43532D3135", "00280000"},
			want: "SELECT\n<- 6F",
		},
		{
			name:    "Rejected command",
			args:    []string{"send", "--aid", "A000000063504B43532D3135", "00A4040000"},
			wantErr: "invalid parameter",
		},
		{
			name:    "Unknown applet",
			args:    []string{"send", "--aid", "A0000000000000", "00280000"},
			wantErr: "no such element",
		},
		{
			name:    "Empty reader",
			args:    []string{"send", "--reader", "SIM Virtual UICC 0", "00280000"},
			wantErr: "open session",
		},
		{
			name:    "Unknown reader",
			args:    []string{"send", "--reader", "nope", "00280000"},
			wantErr: `no reader named "nope"`,
		},
		{
			name:    "Bad P2",
			args:    []string{"send", "--p2", "zz", "00280000"},
			wantErr: "invalid p2",
		},
		{
			name:    "No further applet",
			args:    []string{"send", "--next", "--aid", "A000000063", "00280000"},
			wantErr: "no further applet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output misses %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestParseP2(t *testing.T) {
	tests := map[string]byte{"00": 0x00, "0C": 0x0C, "0x02": 0x02, "ff": 0xFF}
	for in, want := range tests {
		got, err := parseP2(in)
		if err != nil || got != want {
			t.Errorf("parseP2(%q) = %#x, %v; want %#x", in, got, err, want)
		}
	}
	if _, err := parseP2("100"); err == nil {
		t.Error("parseP2(100) succeeded")
	}
}
