package configloader

import (
	"encoding/json"
	"fmt"
	"io"
)

// PrintConfig выводит конфиг в читаемом виде. Секреты должны быть
// скрыты вызывающим до печати.
func PrintConfig(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("configloader: marshal: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
