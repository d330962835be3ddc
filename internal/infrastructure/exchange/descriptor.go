package exchange

import (
	"fmt"
	"strings"

	"github.com/openquant/mmdash/internal/domain"
)

// Descriptor captures one exchange's authentication shape as data. The
// client consumes every descriptor uniformly; no per-exchange branching
// leaks past this table.
type Descriptor struct {
	ID      string
	BaseURL string

	// MemoAsUID sends the credential memo as an account uid field instead
	// of a passphrase header (BitMart-style).
	MemoAsUID bool

	// PassphraseHeader names the request header carrying the memo when the
	// exchange wants a passphrase. Empty means no passphrase.
	PassphraseHeader string

	// AccountGroupPreflight makes the client fetch the account group on
	// construction and prefix private paths with it (AscendEX-style).
	AccountGroupPreflight bool
}

var descriptors = map[string]Descriptor{
	"bingx": {
		ID:      "bingx",
		BaseURL: "https://open-api.bingx.com",
	},
	"bitmart": {
		ID:        "bitmart",
		BaseURL:   "https://api-cloud.bitmart.com",
		MemoAsUID: true,
	},
	"ascendex": {
		ID:                    "ascendex",
		BaseURL:               "https://ascendex.com",
		AccountGroupPreflight: true,
	},
	"gateio": {
		ID:               "gateio",
		BaseURL:          "https://api.gateio.ws",
		PassphraseHeader: "X-Gate-Passphrase",
	},
	"mexc": {
		ID:      "mexc",
		BaseURL: "https://api.mexc.com",
	},
}

// SupportedExchanges lists the exchange ids the factory can build.
func SupportedExchanges() []string {
	ids := make([]string, 0, len(descriptors))
	for id := range descriptors {
		ids = append(ids, id)
	}
	return ids
}

// Factory builds authenticated gateways from the descriptor table.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) New(exchangeID string, creds domain.Credentials) (domain.Gateway, error) {
	desc, ok := descriptors[strings.ToLower(exchangeID)]
	if !ok {
		return nil, fmt.Errorf("%w: exchange %q not supported", domain.ErrConfig, exchangeID)
	}
	return NewClient(desc, creds), nil
}

// NewPublic builds an unauthenticated client for public market data.
func (f *Factory) NewPublic(exchangeID string) (domain.Gateway, error) {
	return f.New(exchangeID, domain.Credentials{})
}
