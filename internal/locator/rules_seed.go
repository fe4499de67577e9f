package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedResult captures rule loading stats.
type SeedResult struct {
	Files   int      `json:"files"`
	Loaded  int      `json:"loaded"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// LoadRulesFromDir reads every YAML file in dir as a list of rules and puts
// the valid ones into rules. A missing dir is not an error.
func LoadRulesFromDir(rules *Rules, dir string) (SeedResult, error) {
	var res SeedResult
	if rules == nil || dir == "" {
		return res, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}
	if !info.IsDir() {
		return res, fmt.Errorf("selector rules path is not a directory: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		res.Files++
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		var list []Rule
		if err := yaml.Unmarshal(data, &list); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		for _, r := range list {
			r = NormalizeRule(r)
			if errs := ValidateRule(r); len(errs) > 0 {
				label := r.ID
				if label == "" {
					label = "unknown-id"
				}
				res.Errors = append(res.Errors, fmt.Sprintf("%s:%s: %s", entry.Name(), label, strings.Join(errs, "; ")))
				res.Skipped++
				continue
			}
			rules.Put(r)
			res.Loaded++
		}
	}
	return res, nil
}
