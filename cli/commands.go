package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/j3fcruz/TokenX/otpauth"
	"github.com/j3fcruz/TokenX/otpcode"
	"github.com/j3fcruz/TokenX/qr"
	"github.com/j3fcruz/TokenX/vault"
)

// codeUnavailable is what a row shows when generation fails. Failures
// never abort a listing.
const codeUnavailable = "unavailable"

// RunList prints every loadable credential with its current code.
func RunList(v *vault.Vault) error {
	records, summary, err := v.LoadAll()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, r := range records {
		code, err := otpcode.Generate(r.Credential, now)
		if err != nil {
			code = codeUnavailable
		}
		window := fmt.Sprintf("%2ds", otpcode.Remaining(r.Credential, now))
		if r.Credential.Kind == otpauth.KindHOTP {
			window = fmt.Sprintf("#%d", r.Credential.Counter)
		}
		fmt.Printf("%-32s %-20s %-12s %s\n", r.Name, r.Credential.Issuer, code, window)
	}
	if len(summary.Skipped) > 0 {
		fmt.Printf("\n%d loaded, %d skipped: %s\n",
			summary.Loaded, len(summary.Skipped), strings.Join(summary.Skipped, ", "))
	}
	return nil
}

// RunImport validates one otpauth:// uri and stores it.
func RunImport(v *vault.Vault, uri string, force bool) error {
	c, err := otpauth.Parse(uri)
	if err != nil {
		return err
	}
	if !force && v.Exists(c.Label) {
		return fmt.Errorf("credential %q already exists (use -force to overwrite)", vault.SanitizeName(c.Label))
	}
	if err := v.Save(c.Label, c); err != nil {
		return err
	}
	fmt.Printf("Imported %s (%s)\n", c.Label, c.Issuer)
	return nil
}

// RunExport writes a credential's provisioning QR image to out, encrypted
// unless plain is set.
func RunExport(v *vault.Vault, name, out string, plain bool) error {
	c, err := v.Load(name)
	if err != nil {
		return err
	}
	if out == "" {
		out = vault.SanitizeName(name) + ".png"
		if !plain {
			out += qr.EncryptedExt
		}
	}
	if plain {
		err = qr.ExportPlain(c, out)
	} else {
		err = qr.ExportEncrypted(c, v, out)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s\n", name, out)
	return nil
}
