package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-service/pkg/iso7816"
	"github.com/gregLibert/smartcard-service/pkg/smartcard"
	"github.com/gregLibert/smartcard-service/pkg/tlv"
)

var (
	sendReader string
	sendAID    string
	sendP2     string
	sendBasic  bool
	sendNext   bool
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] APDU...",
	Short: "Exchange APDUs with an applet",
	Long: `Opens a channel on the applet named by --aid and sends each APDU on it.

APDUs are hex strings; spaces and colons are ignored. The channel bits of the CLA
byte are set by the service, so commands are written for the basic channel:

  setool --virtual send --aid A000000063504B43532D3135 00280000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	fs := sendCmd.Flags()
	fs.StringVar(&sendReader, "reader", "", "reader name (default: first reader with an element)")
	fs.StringVar(&sendAID, "aid", "", "AID of the applet to select, hex (default: no SELECT)")
	fs.StringVar(&sendP2, "p2", "00", "P2 of the SELECT command, hex")
	fs.BoolVar(&sendBasic, "basic", false, "use the basic channel instead of a logical channel")
	fs.BoolVar(&sendNext, "next", false, "select the next applet matching --aid before sending")
}

func parseP2(s string) (byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	p2, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid p2 %q: %w", s, err)
	}
	return byte(p2), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	apdus := make([][]byte, 0, len(args))
	for _, arg := range args {
		apdu, err := tlv.ParseHex(arg)
		if err != nil {
			return err
		}
		apdus = append(apdus, apdu)
	}
	aid, err := tlv.ParseHex(sendAID)
	if err != nil {
		return fmt.Errorf("invalid aid: %w", err)
	}
	p2, err := parseP2(sendP2)
	if err != nil {
		return err
	}

	return withService(func(svc *smartcard.Service) error {
		reader, err := findReader(svc, sendReader)
		if err != nil {
			return err
		}
		session, err := svc.OpenSession(reader)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		defer svc.CloseSession(session)

		open := svc.OpenLogicalChannel
		if sendBasic {
			open = svc.OpenBasicChannel
		}
		ch, err := open(session, aid, p2)
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		defer svc.CloseChannel(ch)

		return exchange(cmd.OutOrStdout(), svc, ch, apdus)
	})
}

func exchange(w io.Writer, svc *smartcard.Service, ch smartcard.Channel, apdus [][]byte) error {
	sel, err := svc.SelectResponse(ch)
	if err != nil {
		return err
	}
	if len(sel) > 0 {
		fmt.Fprintf(w, "SELECT\n")
		printResponse(w, sel)
	}

	if sendNext {
		ok, err := svc.SelectNext(ch)
		if err != nil {
			return fmt.Errorf("select next: %w", err)
		}
		if !ok {
			return errors.New("select next: no further applet matches the AID")
		}
		fmt.Fprintf(w, "SELECT next\n")
	}

	for _, apdu := range apdus {
		fmt.Fprintf(w, "-> % X\n", apdu)
		resp, err := svc.Transmit(ch, apdu)
		if err != nil {
			return fmt.Errorf("transmit % X: %w", apdu, err)
		}
		printResponse(w, resp)
	}
	return nil
}

func printResponse(w io.Writer, raw []byte) {
	resp, err := iso7816.ParseResponseAPDU(raw)
	if err != nil {
		fmt.Fprintf(w, "<- % X (%v)\n", raw, err)
		return
	}
	fmt.Fprintf(w, "<- % X %s\n", raw, resp.Status.Verbose())
}

// findReader returns the reader called name, or the first one holding an element
// when name is empty.
func findReader(svc *smartcard.Service, name string) (smartcard.Reader, error) {
	readers, err := svc.Readers()
	if err != nil {
		return smartcard.Reader{}, fmt.Errorf("list readers: %w", err)
	}

	for _, r := range readers {
		if name != "" {
			got, err := svc.ReaderName(r)
			if err != nil {
				return smartcard.Reader{}, err
			}
			if got == name {
				return r, nil
			}
			continue
		}

		present, err := svc.IsSecureElementPresent(r)
		if err != nil {
			return smartcard.Reader{}, err
		}
		if present {
			return r, nil
		}
	}

	if name != "" {
		return smartcard.Reader{}, fmt.Errorf("no reader named %q", name)
	}
	return smartcard.Reader{}, errors.New("no reader with a secure element")
}
