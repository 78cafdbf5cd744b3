package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/handle"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/sigverify"
)

// keyEnv is read when --key is not given.
const keyEnv = "HANDLECTL_PRIVATE_KEY"

// ErrSignatureMismatch is returned by verify when the signature does not
// recover to the given address.
var ErrSignatureMismatch = errors.New("signature does not match address")

type messageOutput struct {
	Handle  string `json:"handle"`
	Message string `json:"message"`
}

// ClaimBody is the POST /v1/claims payload printed by sign.
type ClaimBody struct {
	Handle       string `json:"handle"`
	OwnerAddress string `json:"ownerAddress"`
	Message      string `json:"message"`
	Signature    string `json:"signature"`
}

type verifyOutput struct {
	Handle  string `json:"handle"`
	Address string `json:"address"`
	Valid   bool   `json:"valid"`
}

func normalized(raw string) (string, error) {
	n := handle.Normalize(raw)
	if err := handle.Validate(n); err != nil {
		return "", fmt.Errorf("handle %q: %w", raw, err)
	}
	return n, nil
}

// NewMessageCommand creates the message command.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "message <handle>",
		Short: "Print the canonical message a wallet must sign to claim a handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := normalized(args[0])
			if err != nil {
				return err
			}
			msg := handle.ClaimMessage(n)
			return emit(cmd.OutOrStdout(), rootOpts, messageOutput{Handle: n, Message: msg}, msg)
		},
	}
}

// NewSignCommand creates the sign command.
func NewSignCommand(_ *RootOptions) *cobra.Command {
	var keyHex string
	cmd := &cobra.Command{
		Use:   "sign <handle>",
		Short: "Sign the claim message for a handle and print the claim body",
		Long: `Sign the canonical claim message with a hex-encoded secp256k1 private key.

The key is taken from --key or, when absent, from ` + keyEnv + `.
Output is the JSON body accepted by POST /v1/claims.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := normalized(args[0])
			if err != nil {
				return err
			}
			if keyHex == "" {
				keyHex = os.Getenv(keyEnv)
			}
			if keyHex == "" {
				return fmt.Errorf("no private key: pass --key or set %s", keyEnv)
			}
			key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
			if err != nil {
				return fmt.Errorf("parse private key: %w", err)
			}
			msg := handle.ClaimMessage(n)
			sig, err := sigverify.SignPersonalHex(key, msg)
			if err != nil {
				return err
			}
			body := ClaimBody{Handle: n, OwnerAddress: sigverify.Address(key), Message: msg, Signature: sig}
			// output is always the claim body, whatever --format says
			return emit(cmd.OutOrStdout(), &RootOptions{Format: "json"}, body, "")
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded secp256k1 private key")
	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var address, signature string
	cmd := &cobra.Command{
		Use:   "verify <handle>",
		Short: "Check that a signature over the claim message recovers to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := normalized(args[0])
			if err != nil {
				return err
			}
			owner, err := sigverify.ChecksumAddress(address)
			if err != nil {
				return err
			}
			ok := sigverify.VerifyHex(handle.ClaimMessage(n), signature, owner)
			text := "valid"
			if !ok {
				text = "invalid"
			}
			if err := emit(cmd.OutOrStdout(), rootOpts, verifyOutput{Handle: n, Address: owner, Valid: ok}, text); err != nil {
				return err
			}
			if !ok {
				return ErrSignatureMismatch
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "claimed owner address (0x...)")
	cmd.Flags().StringVar(&signature, "signature", "", "0x-prefixed 65-byte signature")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
