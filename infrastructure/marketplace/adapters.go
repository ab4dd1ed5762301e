package marketplace

import (
	"net/http"

	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
)

// NewAdapters builds every supported marketplace from configuration.
func NewAdapters(markets configuration.Marketplaces, httpClient *http.Client) []repository.IMarketplace {
	ebayCfg := markets.Ebay
	return []repository.IMarketplace{
		NewPoshmark(markets.Poshmark.BaseURL, httpClient),
		NewMercari(markets.Mercari.BaseURL, httpClient),
		NewEbay(ebayCfg.BaseURL, httpClient, EbayPolicies{
			FulfillmentPolicyID: ebayCfg.Policies.FulfillmentPolicyID,
			PaymentPolicyID:     ebayCfg.Policies.PaymentPolicyID,
			ReturnPolicyID:      ebayCfg.Policies.ReturnPolicyID,
		}, ebayCfg.Policies.MerchantLocationKey),
	}
}

var (
	_ repository.IMarketplace = (*Poshmark)(nil)
	_ repository.IMarketplace = (*Mercari)(nil)
	_ repository.IMarketplace = (*Ebay)(nil)
)
