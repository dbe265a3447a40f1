package templates

import "testing"

func TestAllTemplatesParse(t *testing.T) {
	t.Parallel()
	all, err := All()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if len(all) == 0 {
		t.Fatalf("no templates embedded")
	}
	seen := map[string]bool{}
	for _, tpl := range all {
		if tpl.ID == "" || tpl.Name == "" || len(tpl.Criteria) == 0 {
			t.Fatalf("incomplete template: %+v", tpl)
		}
		if seen[tpl.ID] {
			t.Fatalf("duplicate template id %q", tpl.ID)
		}
		seen[tpl.ID] = true
	}
}

func TestByID(t *testing.T) {
	t.Parallel()
	tpl, err := ByID("city-overview")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if tpl == nil || tpl.Name != "City Overview" {
		t.Fatalf("unexpected template: %+v", tpl)
	}

	missing, err := ByID("nope")
	if err != nil || missing != nil {
		t.Fatalf("absent template: got=(%+v, %v) want=(nil, nil)", missing, err)
	}
}
