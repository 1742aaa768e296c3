package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"optionsvault/cmd/internal/passphrase"
	"optionsvault/crypto"
	"optionsvault/gateway/middleware"
	"optionsvault/native/venue"
	"optionsvault/services/vaultd/api"
)

const (
	defaultPassEnv   = "VAULTCTL_PASS"
	defaultSecretEnv = "VAULTD_AUTH_SECRET"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return errors.New("command required")
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], out)
	case "address":
		return runAddress(args[1:], out)
	case "token":
		return runToken(args[1:], out)
	case "sign-order":
		return runSignOrder(args[1:], out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: vaultctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen      generate a keystore and print its address")
	fmt.Fprintln(w, "  address     print the address of a keystore")
	fmt.Fprintln(w, "  token       issue a vaultd bearer token")
	fmt.Fprintln(w, "  sign-order  sign a signed, limit or rfq order as a maker")
}

func passSource(env string, allowEmpty bool) *passphrase.Source {
	src := passphrase.NewSource(env, "keystore")
	if allowEmpty {
		src.AllowEmpty()
	}
	return src
}

func loadKey(path, passEnv string, allowEmpty bool) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("-keystore required")
	}
	pass, err := passSource(passEnv, allowEmpty).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "vault.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	light := fs.Bool("light", false, "Use light scrypt parameters (devnet only)")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", *path)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passSource(*passEnv, *light).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	var addr crypto.Address
	if *light {
		addr, err = crypto.SaveToKeystoreWithParams(*path, key, pass, crypto.LightKeystore)
	} else {
		addr, err = crypto.SaveToKeystore(*path, key, pass)
	}
	if err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintln(out, addr.String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "", "Keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	empty := fs.Bool("empty-pass", false, "Accept an empty passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*path, *passEnv, *empty)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "Vault address the token acts as")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	issuer := fs.String("issuer", "", "Issuer claim")
	audience := fs.String("audience", "", "Audience claim")
	scopes := fs.String("scopes", "", "Space separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime (0 for no expiry)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := os.Getenv(*secretEnv)
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}
	token, err := middleware.IssueToken(secret, *issuer, *audience, *subject, strings.Fields(*scopes), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runSignOrder(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign-order", flag.ContinueOnError)
	kind := fs.String("kind", "signed", "Order kind: signed, limit or rfq")
	path := fs.String("keystore", "", "Maker keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	empty := fs.Bool("empty-pass", false, "Accept an empty passphrase")
	counterparty := fs.String("counterparty", "", "Action address allowed to fill (empty for any)")
	origin := fs.String("tx-origin", "", "Caller allowed to submit an rfq fill")
	payToken := fs.String("pay-token", "", "Asset the maker pays (the premium asset)")
	payAmount := fs.String("pay-amount", "", "Amount the maker pays")
	buyToken := fs.String("buy-token", "", "Asset the maker buys (the option instrument)")
	buyAmount := fs.String("buy-amount", "", "Amount the maker buys")
	nonce := fs.Uint64("nonce", uint64(time.Now().UnixNano()), "Nonce or salt")
	expiry := fs.Uint64("expiry", uint64(time.Now().Add(time.Hour).Unix()), "Unix expiry of the order")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*path, *passEnv, *empty)
	if err != nil {
		return err
	}
	pay, err := api.ParseAmount(*payAmount)
	if err != nil {
		return fmt.Errorf("pay-amount: %w", err)
	}
	buy, err := api.ParseAmount(*buyAmount)
	if err != nil {
		return fmt.Errorf("buy-amount: %w", err)
	}
	var taker [20]byte
	if strings.TrimSpace(*counterparty) != "" {
		if taker, err = api.ParseAddress(*counterparty); err != nil {
			return fmt.Errorf("counterparty: %w", err)
		}
	}

	var payload any
	switch orderType := strings.ToLower(strings.TrimSpace(*kind)); orderType {
	case "signed":
		order := &venue.SignedOrder{
			Nonce:        *nonce,
			Expiry:       *expiry,
			SignerToken:  *payToken,
			SignerAmount: pay,
			Sender:       taker,
			SenderToken:  *buyToken,
			SenderAmount: buy,
		}
		if err := order.Sign(key); err != nil {
			return err
		}
		payload = api.FromSignedOrder(order)
	case "limit", "rfq":
		orderKind := venue.KindLimit
		var txOrigin [20]byte
		if orderType == "rfq" {
			orderKind = venue.KindRFQ
			if txOrigin, err = api.ParseAddress(*origin); err != nil {
				return fmt.Errorf("tx-origin: %w", err)
			}
		}
		order := &venue.LimitOrder{
			Taker:       taker,
			TxOrigin:    txOrigin,
			MakerToken:  *payToken,
			MakerAmount: pay,
			TakerToken:  *buyToken,
			TakerAmount: buy,
			Salt:        *nonce,
			Expiry:      *expiry,
		}
		if err := order.Sign(key, orderKind); err != nil {
			return err
		}
		payload = api.FromLimitOrder(order)
	default:
		return fmt.Errorf("unknown order kind %q", *kind)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
