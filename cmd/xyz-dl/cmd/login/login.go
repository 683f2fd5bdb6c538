package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/auth"
	"github.com/shiquda/xyz-dl/internal/config"
	"github.com/shiquda/xyz-dl/internal/logger"
)

var (
	configDir string
	phone     string
	areaCode  string
)

const maxCodeAttempts = 3

func init() {
	Cmd.Flags().StringVarP(&configDir, "config-dir", "c", ".", "directory holding credentials and config")
	Cmd.Flags().StringVar(&phone, "phone", "", "phone number (prompted when omitted)")
	Cmd.Flags().StringVar(&areaCode, "area-code", "+86", "phone area code")
}

// Cmd represents the login command
var Cmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to Xiaoyuzhou FM with an SMS code and store the session",
	Long: `Log in to Xiaoyuzhou FM. A verification code is sent to your phone;
the resulting session is stored locally and reused by the download command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		log := logger.MustNew(verbose)
		defer log.Sync()

		cfg, err := config.Load(configDir)
		if err != nil {
			return err
		}

		return runLogin(cmd.Context(), cfg, log)
	},
}

func runLogin(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	in := bufio.NewReader(os.Stdin)

	number := phone
	for !auth.ValidPhoneNumber(number) {
		if number != "" {
			fmt.Println("That does not look like a valid mainland phone number.")
		}
		var err error
		number, err = prompt(in, "Phone number: ")
		if err != nil {
			return err
		}
	}
	if !auth.ValidAreaCode(areaCode) {
		return fmt.Errorf("invalid area code %q", areaCode)
	}

	client := auth.NewLoginClient(cfg, log)
	if err := client.SendSMSCode(ctx, number, areaCode); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	fmt.Printf("Verification code sent to %s %s.\n", areaCode, number)

	creds, err := verifyLoop(ctx, client, in, number)
	if err != nil {
		return err
	}

	store := auth.NewFileStore(cfg.CredentialsPath())
	if err := store.Save(creds); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	fmt.Printf("Logged in. Session stored at %s.\n", store.Path())
	return nil
}

// verifyLoop gives the user a few tries at the code, offering a resend
// after each miss.
func verifyLoop(ctx context.Context, client *auth.LoginClient, in *bufio.Reader, number string) (*auth.Credentials, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := prompt(in, "Verification code: ")
		if err != nil {
			return nil, err
		}

		creds, err := client.LoginWithSMS(ctx, number, code, areaCode)
		if err == nil {
			return creds, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		fmt.Printf("Login failed: %v\n", err)

		if attempt < maxCodeAttempts {
			answer, perr := prompt(in, "Resend the code? [y/N]: ")
			if perr != nil {
				return nil, perr
			}
			if strings.EqualFold(answer, "y") {
				if serr := client.SendSMSCode(ctx, number, areaCode); serr != nil {
					return nil, fmt.Errorf("resend verification code: %w", serr)
				}
				fmt.Println("Code resent.")
			}
		}
	}
	return nil, fmt.Errorf("too many failed attempts")
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
