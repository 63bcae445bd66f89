package output

import (
	"encoding/json"

	"github.com/jaxxstorm/conndiag/internal/model"
)

func RenderJSON(report model.Report) (string, error) {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
