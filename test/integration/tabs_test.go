//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListTabsIncludesAttachedTab(t *testing.T) {
	resp := env.GET(t, "/api/v1/tabs")
	requireStatus(t, resp, http.StatusOK)
	listing := decodeJSON[struct {
		Tabs []tabView `json:"tabs"`
	}](t, resp)

	for _, tab := range listing.Tabs {
		if tab.ID == env.TabID {
			requireField(t, tab.State, "attached", "state")
			return
		}
	}
	t.Fatalf("tab %s missing from %+v", env.TabID, listing.Tabs)
}

func TestGetUnknownTab(t *testing.T) {
	resp := env.GET(t, "/api/v1/tabs/does-not-exist")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestGetActiveTabTool(t *testing.T) {
	out := env.runTool(t, "browser_get_active_tab", "")
	if out == "" || out[0] != '{' {
		t.Fatalf("browser_get_active_tab = %q; want JSON", out)
	}
}
