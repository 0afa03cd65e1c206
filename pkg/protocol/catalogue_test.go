package protocol

import "testing"

func TestCatalogue_EveryToolHasAUniqueNonEmptyName(t *testing.T) {
	seen := make(map[string]bool)
	for _, tool := range Catalogue() {
		if tool.Name == "" {
			t.Fatalf("found a tool definition with an empty name: %+v", tool)
		}
		if seen[tool.Name] {
			t.Fatalf("duplicate tool name: %s", tool.Name)
		}
		seen[tool.Name] = true
	}
}

func TestCatalogue_SwitchBrowserIsPresentButNotCDPDependent(t *testing.T) {
	for _, tool := range Catalogue() {
		if tool.Name == "switch_browser" {
			if tool.CDPDependent {
				t.Fatalf("switch_browser is handled entirely server-side and must not be marked CDP-dependent")
			}
			return
		}
	}
	t.Fatalf("expected switch_browser in the catalogue")
}

func TestCDPDependentTools_MirrorsCatalogueFlags(t *testing.T) {
	deps := CDPDependentTools()
	for _, tool := range Catalogue() {
		_, inSet := deps[tool.Name]
		if inSet != tool.CDPDependent {
			t.Fatalf("tool %s: CDPDependentTools() membership (%v) disagrees with catalogue flag (%v)", tool.Name, inSet, tool.CDPDependent)
		}
	}
}

func TestCatalogue_EventSubscribeToolsPresent(t *testing.T) {
	names := make(map[string]bool)
	for _, tool := range Catalogue() {
		names[tool.Name] = true
	}
	for _, want := range []string{"browser_event_subscribe", "browser_event_unsubscribe"} {
		if !names[want] {
			t.Fatalf("expected %s in the catalogue", want)
		}
	}
}
