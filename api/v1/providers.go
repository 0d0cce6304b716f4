package v1

import (
	"net/http"

	"plotline/internal/gateway/handlers"
	"plotline/internal/provider"
)

// HandleListProviders returns the registered providers and their models.
func (r *Router) HandleListProviders(w http.ResponseWriter, req *http.Request) {
	defaultName := ""
	if p := provider.Default(); p != nil {
		defaultName = p.Name()
	}

	names := provider.List()
	infos := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		p, ok := provider.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, ProviderInfo{
			Name:    name,
			Models:  p.Models(),
			Default: name == defaultName,
		})
	}

	handlers.SendJSON(w, http.StatusOK, ListProvidersResponse{
		Providers: infos,
		Default:   defaultName,
	})
}
