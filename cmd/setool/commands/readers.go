package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-service/pkg/smartcard"
)

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List the secure element readers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(func(svc *smartcard.Service) error {
			return listReaders(cmd, svc)
		})
	},
}

func listReaders(cmd *cobra.Command, svc *smartcard.Service) error {
	readers, err := svc.Readers()
	if err != nil {
		return fmt.Errorf("list readers: %w", err)
	}
	if len(readers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no reader")
		return nil
	}

	for _, r := range readers {
		name, err := svc.ReaderName(r)
		if err != nil {
			return err
		}
		present, err := svc.IsSecureElementPresent(r)
		if err != nil {
			return err
		}
		if !present {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tempty\n", name)
			continue
		}

		atr, err := readATR(svc, r)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tATR % X\n", name, atr)
	}
	return nil
}

func readATR(svc *smartcard.Service, r smartcard.Reader) ([]byte, error) {
	session, err := svc.OpenSession(r)
	if err != nil {
		return nil, err
	}
	defer svc.CloseSession(session)
	return svc.SessionATR(session)
}
