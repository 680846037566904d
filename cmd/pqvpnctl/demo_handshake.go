package main

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
	"github.com/pqvpn/pqvpn/pkg/handshake"
	"github.com/pqvpn/pqvpn/pkg/logging"
	"github.com/pqvpn/pqvpn/pkg/sessionkdf"
)

func newDemoHandshakeCommand() *cobra.Command {
	var sigScheme string

	cmd := &cobra.Command{
		Use:   "demo-handshake",
		Short: "Run a local initiator/responder handshake and print the derived session keys",
		Long: "demo-handshake builds an initiator and a responder session in the same " +
			"process, drives the two-message exchange between them, and prints the " +
			"directional AEAD keys pkg/sessionkdf derives from the result. Useful for " +
			"sanity-checking a build's algorithm bindings without standing up two nodes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := cryptocore.NewProvider(sigScheme)
			if err != nil {
				return fmt.Errorf("unsupported signature scheme: %w", err)
			}

			initiator, err := handshake.NewSession(provider, true)
			if err != nil {
				return fmt.Errorf("creating initiator session: %w", err)
			}
			defer initiator.Destroy()

			responder, err := handshake.NewSession(provider, false)
			if err != nil {
				return fmt.Errorf("creating responder session: %w", err)
			}
			defer responder.Destroy()

			logger := logging.GetDefaultLogger()

			const senderIndex = 1
			msg1, err := initiator.CreateInitiation(responder.StaticPublicKey(), senderIndex)
			if err != nil {
				return fmt.Errorf("create_initiation: %w", err)
			}
			logger.Debug("demo-handshake: create_initiation", logging.Fields{"sender_index": msg1.SenderIndex})
			fmt.Fprintf(cmd.OutOrStdout(), "initiator -> responder: message_type=%d sender_index=%d\n",
				msg1.MessageType, msg1.SenderIndex)

			msg2, err := responder.ProcessInitiation(msg1)
			if err != nil {
				return fmt.Errorf("process_initiation: %w", err)
			}
			logger.Debug("demo-handshake: process_initiation", logging.Fields{"sender_index": msg2.SenderIndex})
			fmt.Fprintf(cmd.OutOrStdout(), "responder -> initiator: message_type=%d sender_index=%d\n",
				msg2.MessageType, msg2.SenderIndex)

			if err := initiator.ProcessResponse(msg2); err != nil {
				return fmt.Errorf("process_response: %w", err)
			}

			initiatorSecret, err := initiator.SharedSecret()
			if err != nil {
				return fmt.Errorf("initiator shared secret: %w", err)
			}
			responderSecret, err := responder.SharedSecret()
			if err != nil {
				return fmt.Errorf("responder shared secret: %w", err)
			}
			if string(initiatorSecret) != string(responderSecret) {
				return fmt.Errorf("initiator and responder disagree on the shared secret")
			}

			transcript := transcriptOf(msg1, msg2)
			keys, err := sessionkdf.DeriveSessionKeys(initiatorSecret, transcript)
			if err != nil {
				return fmt.Errorf("deriving session keys: %w", err)
			}
			logger.Info("demo-handshake: complete", logging.Fields{"shared_secret_bytes": len(initiatorSecret)})

			fmt.Fprintf(cmd.OutOrStdout(), "handshake complete: %d bytes of raw shared secret\n", len(initiatorSecret))
			fmt.Fprintf(cmd.OutOrStdout(), "initiator -> responder key: %x\n", keys.InitiatorToResponder)
			fmt.Fprintf(cmd.OutOrStdout(), "responder -> initiator key: %x\n", keys.ResponderToInitiator)
			return nil
		},
	}

	cmd.Flags().StringVar(&sigScheme, "signature-scheme", "Dilithium2", "signature scheme bound to the provider (does not affect this handshake's KEM flow)")
	return cmd
}

// transcriptOf binds both messages' sender indices and ephemeral public keys
// into the session key derivation, so replaying message 1 against a
// different message 2 (or vice versa) would derive a different key pair.
func transcriptOf(msg1, msg2 *handshake.Message) []byte {
	out := make([]byte, 0, 8+len(msg1.EphemeralPublic)+len(msg2.EphemeralPublic))
	out = binary.BigEndian.AppendUint32(out, msg1.SenderIndex)
	out = binary.BigEndian.AppendUint32(out, msg2.SenderIndex)
	out = append(out, msg1.EphemeralPublic...)
	out = append(out, msg2.EphemeralPublic...)
	return out
}
