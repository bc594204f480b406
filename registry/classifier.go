package registry

import (
	"strings"

	"github.com/hupe1980/stagemesh/core"
)

// Classifier infers a stage assignment for plugins that carry neither
// explicit stages nor a type default. The inference is best-effort and
// purely advisory; a nil/empty result simply means no opinion.
type Classifier interface {
	Classify(desc core.PluginDescriptor, p core.Plugin) []core.Stage
}

// HeuristicClassifier guesses a stage from naming conventions in the plugin
// name. It exists so hand-rolled resource-type plugins without stage metadata
// still land somewhere sensible; explicit stages or type defaults always take
// precedence and are never consulted here.
type HeuristicClassifier struct{}

var nameHints = []struct {
	substrings []string
	stage      core.Stage
}{
	{[]string{"parse", "ingest", "input"}, core.StageParse},
	{[]string{"think", "plan", "prompt", "reason"}, core.StageThink},
	{[]string{"review", "verify", "check", "critic"}, core.StageReview},
	{[]string{"deliver", "respond", "output", "send"}, core.StageDeliver},
	{[]string{"error", "fail", "recover"}, core.StageError},
}

// Classify matches known substrings in the plugin name, falling back to the
// DO stage for anything action-shaped it cannot place.
func (HeuristicClassifier) Classify(desc core.PluginDescriptor, _ core.Plugin) []core.Stage {
	name := strings.ToLower(desc.Name)
	for _, hint := range nameHints {
		for _, sub := range hint.substrings {
			if strings.Contains(name, sub) {
				return []core.Stage{hint.stage}
			}
		}
	}
	return []core.Stage{core.StageDo}
}
