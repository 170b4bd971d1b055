package council

import (
	"fmt"
	"math/rand"
	"sort"
)

// labelAlphabet holds the short labels handed to reviewers. Councils
// larger than eight members fall back to numeric labels.
const labelAlphabet = "ABCDEFGH"

// Anonymization is a per-call bijection between council members and
// short labels. It exists to stop a model from recognizing and favoring
// its own prior output; the label→model mapping must never appear in
// text shown to reviewers.
type Anonymization struct {
	labelToModel map[string]string
	modelToLabel map[string]string
	labels       []string // in presentation order
}

// anonymize assigns each model a random label. The assignment is a fresh
// random bijection on every call.
func anonymize(modelIDs []string) *Anonymization {
	shuffled := make([]string, len(modelIDs))
	copy(shuffled, modelIDs)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	a := &Anonymization{
		labelToModel: make(map[string]string, len(shuffled)),
		modelToLabel: make(map[string]string, len(shuffled)),
	}
	for i, model := range shuffled {
		label := labelFor(i)
		a.labelToModel[label] = model
		a.modelToLabel[model] = label
	}

	a.labels = make([]string, 0, len(a.labelToModel))
	for label := range a.labelToModel {
		a.labels = append(a.labels, label)
	}
	sort.Slice(a.labels, func(i, j int) bool {
		return labelOrder(a.labels[i]) < labelOrder(a.labels[j])
	})
	return a
}

func labelFor(i int) string {
	if i < len(labelAlphabet) {
		return string(labelAlphabet[i])
	}
	return fmt.Sprintf("R%d", i+1)
}

func labelOrder(label string) int {
	if len(label) == 1 {
		for i := 0; i < len(labelAlphabet); i++ {
			if label[0] == labelAlphabet[i] {
				return i
			}
		}
	}
	var n int
	if _, err := fmt.Sscanf(label, "R%d", &n); err == nil {
		return n - 1
	}
	return len(labelAlphabet)
}

// Labels returns the assigned labels in presentation order.
func (a *Anonymization) Labels() []string {
	return a.labels
}

// Model resolves a label back to its model id.
func (a *Anonymization) Model(label string) (string, bool) {
	model, ok := a.labelToModel[label]
	return model, ok
}

// Label resolves a model id to its label.
func (a *Anonymization) Label(model string) (string, bool) {
	label, ok := a.modelToLabel[model]
	return label, ok
}

// LabelToModel returns a copy of the full mapping for caller-side
// provenance. Callers must not feed this back into reviewer prompts.
func (a *Anonymization) LabelToModel() map[string]string {
	out := make(map[string]string, len(a.labelToModel))
	for k, v := range a.labelToModel {
		out[k] = v
	}
	return out
}
