// Package documents provides the benchmark texts the student model is
// evaluated on.
package documents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one benchmark input. IDs are 1-based and stable for a run.
type Document struct {
	ID   int
	Name string
	Text string
}

var builtin = []Document{
	{
		ID:   1,
		Name: "yemen-humanitarian",
		Text: `By Dale Gavlak * Catholic News Service. AMMAN, Jordan (CNS) -- CAFOD has joined other NGOs in calling for prayer for Yemen.
After nearly four years of war, more than 14 million people are facing starvation and 85,000 children may have already died.
On Jan. 28, Martin Griffiths, U.N. special envoy, pressed for troop withdrawal from Hodeida.
"We see immense suffering," said Chris Bain, CEO of CAFOD. Aid workers report rising numbers of displaced civilians.`,
	},
	{
		ID:   2,
		Name: "brazil-flood",
		Text: `RIO DE JANEIRO (AP) — Heavy rains in southern Brazil have caused a dam to collapse.
The death toll has risen to 57. The bursting of the small hydroelectric dam between Cotiporã and Bento Gonçalves sent a two-meter wave of muddy water.
Electricity is cut off for nearly 300,000 residents. Governor Eduardo Leite described it as "the worst climate disaster in the state's history."`,
	},
	{
		ID:   3,
		Name: "germany-rail-strike",
		Text: `BERLIN — Germany’s transport network ground to a halt as the GDL train drivers' union launched a 35-hour nationwide strike.
The strike began at 2:00 AM. Deutsche Bahn noted that only 20% of long-distance trains would run.
The German Economic Institute estimates the cost at 100 million euros per day.`,
	},
}

// Default returns the built-in benchmark set.
func Default() []Document {
	return append([]Document(nil), builtin...)
}

// LoadDir reads every *.txt file in dir, ordered by file name. The document
// name is the file name without its extension.
func LoadDir(dir string) ([]Document, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading document %s: %w", p, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		docs = append(docs, Document{
			ID:   len(docs) + 1,
			Name: strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
			Text: text,
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents found in %s", dir)
	}
	return docs, nil
}

// Load returns the documents in dir, or the built-in set when dir is empty.
func Load(dir string) ([]Document, error) {
	if dir == "" {
		return Default(), nil
	}
	return LoadDir(dir)
}
