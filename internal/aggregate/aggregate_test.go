package aggregate

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/starford/a11yledger/internal/identity"
	"github.com/starford/a11yledger/internal/models"
)

type memTx struct {
	seq       int64
	defects   map[string]models.Canonical
	history   map[string][]models.Canonical
	conflicts []models.Conflict
}

func newMemTx() *memTx {
	return &memTx{
		defects: make(map[string]models.Canonical),
		history: make(map[string][]models.Canonical),
	}
}

func (m *memTx) NextSeq(context.Context) (int64, error) {
	m.seq++
	return m.seq, nil
}

func (m *memTx) Candidates(_ context.Context, base string) ([]models.Canonical, error) {
	var out []models.Canonical
	for _, c := range m.defects {
		if c.Fingerprint.Base == base {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memTx) Insert(_ context.Context, c models.Canonical) error {
	m.defects[c.ID] = c
	return nil
}

func (m *memTx) Update(_ context.Context, c models.Canonical) error {
	m.history[c.ID] = append(m.history[c.ID], m.defects[c.ID])
	m.defects[c.ID] = c
	return nil
}

func (m *memTx) AddConflict(_ context.Context, c models.Conflict) error {
	c.ID = int64(len(m.conflicts) + 1)
	m.conflicts = append(m.conflicts, c)
	return nil
}

const checkoutURL = "https://www.example.com/checkout"

func record(src, platform, actual string, pri models.Priority, refs ...string) models.DefectRecord {
	return models.DefectRecord{
		Title:          "A11y_4.1.2 Name, Role, Value – " + platform + " – Checkout Page – Place order button not announced",
		Priority:       pri,
		Environment:    models.Environment{OS: platform},
		Page:           checkoutURL,
		Steps:          []string{"Navigate to " + checkoutURL},
		ActualResult:   []string{actual},
		ExpectedResult: []string{"Reads 'Place order, button'."},
		UserImpact:     []string{"Screen reader users cannot place an order."},
		SuggestedFix:   []string{"Add an accessible name."},
		WCAGRefs:       refs,
		SourceReports:  []string{src},
	}
}

func apply(t *testing.T, agg *Aggregator, tx Tx, rec models.DefectRecord) Result {
	t.Helper()
	res, err := agg.Apply(context.Background(), tx, rec)
	if err != nil {
		t.Fatalf("Apply(%s): %v", rec.SourceReports, err)
	}
	return res
}

func newAggregator() *Aggregator {
	return New(identity.NewResolver(identity.DefaultThreshold, identity.DefaultMargin), "run-1", nil)
}

func TestApply_MergesAcrossPlatforms(t *testing.T) {
	tx, agg := newMemTx(), newAggregator()

	web := record("web.md", "Web", "NVDA announces the button as button.", models.PriorityMedium, "4.1.2")
	ios := record("ios.md", "iOS", "VoiceOver announces the button as button.", models.PriorityHigh, "4.1.2", "1.3.1")
	ios.Environment = models.Environment{OS: "iOS 18", BrowserOrAppVersion: "Safari"}

	if res := apply(t, agg, tx, web); res.Outcome != OutcomeInserted || res.Version != 1 {
		t.Fatalf("first apply = %+v, want inserted v1", res)
	}
	res := apply(t, agg, tx, ios)
	if res.Outcome != OutcomeMerged || res.Version != 2 {
		t.Fatalf("second apply = %+v, want merged v2", res)
	}
	if len(tx.defects) != 1 {
		t.Fatalf("canonical count = %d, want 1", len(tx.defects))
	}

	got := tx.defects[res.ID]
	if got.Record.Priority != models.PriorityHigh {
		t.Errorf("priority = %v, want High", got.Record.Priority)
	}
	if diff := cmp.Diff([]string{"1.3.1", "4.1.2"}, got.Record.WCAGRefs); diff != "" {
		t.Errorf("refs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ios.md", "web.md"}, got.Record.SourceReports); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}
	if got.Record.Environment.OS != "Web" {
		t.Errorf("environment = %+v, want first observation kept", got.Record.Environment)
	}
	if len(got.Record.ActualResult) != 2 || len(got.Sightings) != 2 {
		t.Errorf("actual = %v, sightings = %v", got.Record.ActualResult, got.Sightings)
	}
	if len(tx.history[res.ID]) != 1 || tx.history[res.ID][0].Version != 1 {
		t.Errorf("history = %+v", tx.history[res.ID])
	}
}

func TestApply_DifferentCriterionStaysSeparate(t *testing.T) {
	tx, agg := newMemTx(), newAggregator()

	apply(t, agg, tx, record("a.md", "Web", "Button is silent.", models.PriorityLow, "4.1.2"))
	other := record("b.md", "Web", "Button is silent.", models.PriorityLow, "2.4.3")
	other.Title = "A11y_2.4.3 Focus Order – Web – Checkout Page – Place order button not announced"
	if res := apply(t, agg, tx, other); res.Outcome != OutcomeInserted {
		t.Fatalf("apply = %+v, want inserted", res)
	}
	if len(tx.defects) != 2 {
		t.Errorf("canonical count = %d, want 2", len(tx.defects))
	}
}

func TestApply_ReapplyIsUnchanged(t *testing.T) {
	tx, agg := newMemTx(), newAggregator()
	rec := record("a.md", "Web", "Button is silent.", models.PriorityLow, "4.1.2")

	first := apply(t, agg, tx, rec)
	again := apply(t, agg, tx, rec)
	if again.Outcome != OutcomeUnchanged || again.ID != first.ID || again.Version != 1 {
		t.Errorf("reapply = %+v, want unchanged v1", again)
	}
}

func TestApply_AmbiguousGoesToConflicts(t *testing.T) {
	tx, agg := newMemTx(), newAggregator()

	apply(t, agg, tx, record("a.md", "Web", "button has no accessible name at all", models.PriorityLow, "4.1.2"))
	res := apply(t, agg, tx, record("b.md", "Web", "button has no name", models.PriorityHigh, "4.1.2"))
	if res.Outcome != OutcomeConflict {
		t.Fatalf("apply = %+v, want conflict", res)
	}
	if len(tx.conflicts) != 1 || tx.conflicts[0].Source != "b.md" || tx.conflicts[0].RunID != "run-1" {
		t.Errorf("conflicts = %+v", tx.conflicts)
	}
	for _, c := range tx.defects {
		if c.Record.Priority != models.PriorityLow || c.Version != 1 {
			t.Errorf("store changed by conflicting record: %+v", c)
		}
	}
}

func TestApply_DistinctDefectsGetVariants(t *testing.T) {
	tx, agg := newMemTx(), newAggregator()

	first := apply(t, agg, tx, record("a.md", "Web", "Focus is lost after submit.", models.PriorityLow, "4.1.2"))
	second := apply(t, agg, tx, record("b.md", "Web", "Image lacks alt text.", models.PriorityLow, "4.1.2"))
	if second.Outcome != OutcomeInserted || second.ID != first.ID+"-1" {
		t.Errorf("second = %+v, want variant of %s", second, first.ID)
	}
}

func fixtures() []models.Canonical {
	key := identity.Key{Page: "example.com/checkout", PrimaryRef: "4.1.2", Signature: "sig"}
	fp := models.Fingerprint{Base: "base"}

	a := FromRecord(record("a.md", "Web", "Button is silent.", models.PriorityLow, "4.1.2"), key, fp, 1)
	b := FromRecord(record("b.md", "iOS", "button is SILENT", models.PriorityCritical, "4.1.2", "2.4.6"), key, fp, 2)
	c := FromRecord(record("c.md", "Android", "TalkBack reads nothing.", models.PriorityMedium, "1.3.1"), key, fp, 3)
	c.Record.Environment = models.Environment{}
	c.Record.Steps = nil
	ab := Merge(a, b)
	return []models.Canonical{a, b, c, ab, Merge(ab, c)}
}

func TestMerge_Commutative(t *testing.T) {
	fx := fixtures()
	for i := range fx {
		for j := range fx {
			x, y := Merge(fx[i], fx[j]), Merge(fx[j], fx[i])
			if diff := cmp.Diff(x, y, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Merge(%d,%d) != Merge(%d,%d):\n%s", i, j, j, i, diff)
			}
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	for i, c := range fixtures() {
		if diff := cmp.Diff(c, Merge(c, c), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("fixture %d: Merge(c,c) != c:\n%s", i, diff)
		}
	}
}

func TestMerge_Monotonic(t *testing.T) {
	fx := fixtures()
	for i := range fx {
		for j := range fx {
			m := Merge(fx[i], fx[j])
			if m.Record.Priority < fx[i].Record.Priority || m.Record.Priority < fx[j].Record.Priority {
				t.Errorf("Merge(%d,%d) lowered priority to %v", i, j, m.Record.Priority)
			}
			for _, src := range [][]string{fx[i].Record.WCAGRefs, fx[j].Record.WCAGRefs} {
				if !subset(src, m.Record.WCAGRefs) {
					t.Errorf("Merge(%d,%d) refs %v missing some of %v", i, j, m.Record.WCAGRefs, src)
				}
			}
			for _, src := range [][]string{fx[i].Record.SourceReports, fx[j].Record.SourceReports} {
				if !subset(src, m.Record.SourceReports) {
					t.Errorf("Merge(%d,%d) sources %v missing some of %v", i, j, m.Record.SourceReports, src)
				}
			}
			if !sort.StringsAreSorted(m.Record.WCAGRefs) {
				t.Errorf("Merge(%d,%d) refs not sorted: %v", i, j, m.Record.WCAGRefs)
			}
		}
	}
}

func TestMerge_FieldPolicies(t *testing.T) {
	fx := fixtures()
	a, b, c := fx[0], fx[1], fx[2]

	ab := Merge(b, a)
	if ab.Record.Environment.OS != "Web" {
		t.Errorf("environment = %+v, want earliest", ab.Record.Environment)
	}
	if diff := cmp.Diff([]string{"Button is silent."}, ab.Record.ActualResult); diff != "" {
		t.Errorf("trivially different observations should fold (-want +got):\n%s", diff)
	}
	if ab.FirstSeen != 1 {
		t.Errorf("first seen = %d, want 1", ab.FirstSeen)
	}

	backfilled := Merge(c, models.Canonical{ID: c.ID, FirstSeen: 9, Record: models.DefectRecord{
		Environment: models.Environment{OS: "Android 15"},
		Steps:       []string{"Open app"},
	}})
	if backfilled.Record.Environment.OS != "Android 15" {
		t.Errorf("empty environment should be backfilled, got %+v", backfilled.Record.Environment)
	}
	if diff := cmp.Diff([]string{"Open app"}, backfilled.Record.Steps); diff != "" {
		t.Errorf("empty steps should be backfilled (-want +got):\n%s", diff)
	}
}

func subset(sub, set []string) bool {
	m := make(map[string]struct{}, len(set))
	for _, s := range set {
		m[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := m[s]; !ok {
			return false
		}
	}
	return true
}
