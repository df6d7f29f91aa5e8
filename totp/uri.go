package totp

import (
	"net/url"
	"strconv"
	"strings"
)

// URIOptions describes an otpauth:// provisioning URI. Zero Digits,
// PeriodSeconds and Algorithm take the package defaults.
type URIOptions struct {
	Secret        string
	Issuer        string
	AccountName   string
	Digits        int
	PeriodSeconds int
	Algorithm     Algorithm
}

// BuildOtpauthURI returns the key URI authenticator apps scan from a QR code:
//
//	otpauth://totp/<issuer:account>?secret=..&issuer=..&algorithm=SHA1&digits=6&period=30
func BuildOtpauthURI(opts URIOptions) (string, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	account := strings.TrimSpace(opts.AccountName)
	secret := strings.TrimSpace(opts.Secret)
	if issuer == "" {
		return "", paramErr("issuer must not be empty")
	}
	if account == "" {
		return "", paramErr("accountName must not be empty")
	}
	if secret == "" {
		return "", paramErr("secret must not be empty")
	}

	r, err := Options{
		TimestampMs:   new(int64),
		Digits:        opts.Digits,
		PeriodSeconds: opts.PeriodSeconds,
		Algorithm:     opts.Algorithm,
	}.resolve()
	if err != nil {
		return "", err
	}

	label := url.PathEscape(issuer + ":" + account)

	// Fixed parameter order; url.Values would sort the keys.
	query := "secret=" + queryEscape(secret) +
		"&issuer=" + queryEscape(issuer) +
		"&algorithm=" + string(r.alg) +
		"&digits=" + strconv.Itoa(r.digits) +
		"&period=" + strconv.FormatInt(r.period, 10)

	return "otpauth://totp/" + label + "?" + query, nil
}

// queryEscape escapes a query value with %20 for spaces. Some authenticator
// apps show a '+' literally.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
