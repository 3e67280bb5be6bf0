// Package tlv builds the BER-TLV structures a secure element returns when an application
// is selected, and provides the Hex helper used to write byte fixtures.
package tlv

import (
	"fmt"

	"github.com/moov-io/bertlv"
)

// FCI tags (ISO/IEC 7816-4 section 5.3.3).
const (
	TagFCI              = "6F"
	TagDFName           = "84"
	TagProprietary      = "A5"
	TagApplicationLabel = "50"
)

// FCI describes the File Control Information template of an application.
type FCI struct {
	DFName []byte
	Label  string
	// Proprietary holds extra primitive tags placed under 'A5', in order.
	Proprietary []bertlv.TLV
}

// Encode serialises the template as '6F' { '84' DFName, 'A5' { '50' Label, ... } }.
// Empty fields are omitted; an empty template still yields '6F 00'.
func (f FCI) Encode() ([]byte, error) {
	var children []bertlv.TLV

	if len(f.DFName) > 0 {
		children = append(children, bertlv.TLV{Tag: TagDFName, Value: f.DFName})
	}

	var prop []bertlv.TLV
	if f.Label != "" {
		prop = append(prop, bertlv.TLV{Tag: TagApplicationLabel, Value: []byte(f.Label)})
	}
	prop = append(prop, f.Proprietary...)

	if len(prop) > 0 {
		children = append(children, bertlv.TLV{Tag: TagProprietary, TLVs: prop})
	}

	if len(children) == 0 {
		return []byte{0x6F, 0x00}, nil
	}

	out, err := bertlv.Encode([]bertlv.TLV{{Tag: TagFCI, TLVs: children}})
	if err != nil {
		return nil, fmt.Errorf("encode FCI: %w", err)
	}
	return out, nil
}
