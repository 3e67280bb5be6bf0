package commands

import (
	"github.com/pion/logging"

	"github.com/gregLibert/smartcard-service/pkg/iso7816"
	"github.com/gregLibert/smartcard-service/pkg/tlv"
	"github.com/gregLibert/smartcard-service/pkg/virtualse"
)

// Names of the simulated readers.
const (
	demoESE  = "Virtual eSE 0"
	demoUICC = "SIM Virtual UICC 0"
)

// PKCS15AID is the AID of the PKCS#15 application of the simulated element.
var PKCS15AID = tlv.Hex("A0 00 00 00 63 50 4B 43 53 2D 31 35")

// demoSimulator attaches an embedded element holding a PKCS#15 applet and an empty
// UICC slot.
func demoSimulator(lf logging.LoggerFactory) *virtualse.Simulator {
	sim := virtualse.NewSimulator(virtualse.Config{LoggerFactory: lf})
	sim.AddReader(demoESE)
	sim.AddReader(demoUICC)

	pkcs15 := &virtualse.Applet{
		AID:   PKCS15AID,
		Label: "PKCS#15",
		Handle: func(cmd *iso7816.CommandAPDU) []byte {
			switch cmd.Instruction.Raw {
			case iso7816.INS_ENABLE_VERIF_REQ, iso7816.INS_VERIFY:
				return tlv.Hex("90 00")
			case iso7816.INS_GET_CHALLENGE:
				return append(tlv.Hex("01 23 45 67 89 AB CD EF"), 0x90, 0x00)
			default:
				return tlv.Hex("6D 00")
			}
		},
	}

	// a freshly created reader always accepts the insertion
	_ = sim.Insert(demoESE, &virtualse.Element{
		ATR:     tlv.Hex("3B 8A 80 01 80 31 80 65 B0 85 03 00 EF 12"),
		Applets: []*virtualse.Applet{pkcs15},
	})
	return sim
}
