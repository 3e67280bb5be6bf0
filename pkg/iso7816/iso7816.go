/*
Package iso7816 implements the data structures secure element transports need to talk to a card according to the ISO/IEC 7816 standard.

This package provides the fundamental building blocks for APDU (Application Protocol Data Unit) communication: Command and Response structures, CLA/INS decoding, Status Word (SW) classification, and the command builders used to manage logical channels and select applications.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Logical Channels

A card can run several applications side by side, each on its own logical channel.
Channel 0 (the basic channel) is always open. Channels 1-19 are opened with MANAGE CHANNEL
and addressed through the low bits of the CLA byte. Class.WithChannel and WithChannel
rewrite those bits so a command built for channel 0 reaches the channel it belongs to.

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various error conditions.

# Usage Example: Opening a Logical Channel

	cls, _ := iso7816.NewClass(0x00)
	client := iso7816.NewClient(card)

	trace, err := client.Send(iso7816.OpenChannel(cls))
	if err != nil {
	    log.Fatal(err)
	}

	ch, err := iso7816.ParseOpenedChannel(trace.Last().Response)
	if err != nil {
	    log.Fatal(err)
	}

	onChannel, _ := cls.WithChannel(ch)
	sel, _ := client.Send(iso7816.SelectApplication(onChannel, aid, 0x00))
	fmt.Println(sel.Last().Response.Status.Verbose())
*/
package iso7816
