package sequence

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// fileDoc is the YAML layout shared by FileSource and S3Source:
//
//	sequences:
//	  - id: optin-nurture
//	    name: Opt-in nurture
//	    trigger: {type: tag_added, value: optin}
//	    exit_tag: purchased
//	    steps:
//	      - position: 1
//	        subject: "Welcome {{ first_name }}"
//	        body: "..."
//	        delay: {hours: 1}
type fileDoc struct {
	Sequences []sequenceDoc `yaml:"sequences"`
}

type sequenceDoc struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Active      *bool              `yaml:"active"`
	Trigger     domain.TriggerSpec `yaml:"trigger"`
	ExitTag     string             `yaml:"exit_tag"`
	ExitOnReply bool               `yaml:"exit_on_reply"`
	ExitOnClick bool               `yaml:"exit_on_click"`
	Channel     string             `yaml:"channel"`
	Steps       []stepDoc          `yaml:"steps"`
}

type stepDoc struct {
	Position int          `yaml:"position"`
	Subject  string       `yaml:"subject"`
	Body     string       `yaml:"body"`
	Delay    domain.Delay `yaml:"delay"`
	Active   *bool        `yaml:"active"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ParseYAML decodes a sequences document. Omitted active flags default to
// true. Definitions are not validated here; the registry does that.
func ParseYAML(data []byte) ([]domain.SequenceDefinition, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sequences yaml: %w", err)
	}
	out := make([]domain.SequenceDefinition, 0, len(doc.Sequences))
	for _, sd := range doc.Sequences {
		def := domain.SequenceDefinition{
			ID:          sd.ID,
			Name:        sd.Name,
			Active:      boolOr(sd.Active, true),
			Trigger:     sd.Trigger.Trigger(),
			ExitTag:     domain.NormalizeLabel(sd.ExitTag),
			ExitOnReply: sd.ExitOnReply,
			ExitOnClick: sd.ExitOnClick,
			Channel:     sd.Channel,
		}
		for _, st := range sd.Steps {
			def.Steps = append(def.Steps, domain.StepDefinition{
				Position: st.Position,
				Subject:  st.Subject,
				Body:     st.Body,
				Delay:    st.Delay,
				Active:   boolOr(st.Active, true),
			})
		}
		out = append(out, def)
	}
	return out, nil
}

// FileSource reads definitions from a YAML file on every Load.
type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) ([]domain.SequenceDefinition, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read sequences file: %w", err)
	}
	return ParseYAML(data)
}
