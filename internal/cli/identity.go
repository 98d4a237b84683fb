package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/term"

	"github.com/Syncre-App/chatcore/internal/identity"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

// maxPINAttempts bounds interactive unlock retries.
const maxPINAttempts = 3

// PINReader prompts for the encryption PIN.
type PINReader func() (string, error)

// TerminalPIN reads a PIN from stdin without echo when stdin is a terminal
// and as a plain line otherwise.
func TerminalPIN(prompt io.Writer) PINReader {
	return func() (string, error) {
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			fmt.Fprint(prompt, "Encryption PIN: ")
			raw, err := term.ReadPassword(fd)
			fmt.Fprintln(prompt)
			if err != nil {
				return "", fmt.Errorf("failed to read PIN: %w", err)
			}
			return string(raw), nil
		}
		return readLinePIN(os.Stdin)
	}
}

func readLinePIN(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// EnsureUnlocked restores a cached identity, resumes with a remembered PIN,
// or asks readPIN until the vault opens.
func (a *App) EnsureUnlocked(ctx context.Context, readPIN PINReader) error {
	if a.Vault.Restore() {
		logger.Debugf("cli: identity restored from cache")
		return nil
	}
	if ok, err := a.Vault.ResumeWithCachedPIN(ctx); ok {
		logger.Debugf("cli: identity unlocked with cached PIN")
		return nil
	} else if err != nil {
		logger.Warnf("cli: cached PIN rejected: %v", err)
	}
	if readPIN == nil {
		return identity.ErrIdentityLocked
	}

	var lastErr error
	for attempt := 0; attempt < maxPINAttempts; attempt++ {
		pin, err := readPIN()
		if err != nil {
			return err
		}
		_, err = a.Vault.Unlock(ctx, pin)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, identity.ErrInvalidPIN) && !errors.Is(err, identity.ErrPINRequired) {
			return err
		}
		logger.Warnf("%v", err)
	}
	return lastErr
}

// UnlockCommand unlocks the identity and reports the outcome.
func UnlockCommand(ctx context.Context, a *App, readPIN PINReader, out io.Writer) error {
	if _, err := a.Token(); err != nil {
		return err
	}
	if err := a.EnsureUnlocked(ctx, readPIN); err != nil {
		return err
	}
	fmt.Fprintf(out, "Encryption unlocked (key %s)\n", shortKey(a.Vault.PublicKey()))
	return nil
}

// IdentityCommand prints this device's identity. With showQR it also renders
// the public key as a QR code for out-of-band verification.
func IdentityCommand(a *App, showQR bool, out io.Writer) error {
	deviceID, err := a.Vault.DeviceID()
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}
	fmt.Fprintf(out, "Device:     %s\n", deviceID)

	if !a.Vault.Restore() {
		fmt.Fprintln(out, "Encryption: locked")
		return nil
	}
	pub := a.Vault.PublicKey()
	fmt.Fprintln(out, "Encryption: unlocked")
	fmt.Fprintf(out, "Public key: %s\n", pub)

	if showQR {
		qr, err := qrcode.New(pub, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("failed to generate QR code: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, qr.ToSmallString(false))
	}
	return nil
}

// ResetCommand forgets the cached identity and, optionally, the cached PIN.
func ResetCommand(a *App, includePIN bool, out io.Writer) error {
	a.Vault.Clear(includePIN)
	a.Keys.Reset()
	if includePIN {
		fmt.Fprintln(out, "Cleared cached identity and PIN")
	} else {
		fmt.Fprintln(out, "Cleared cached identity")
	}
	return nil
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12] + "…"
}
