package feed

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/cloudant/quimby/types"
)

// Encode writes events and a checkpoint in normal feed framing, one row
// per line, the way the server streams them.
func Encode(w io.Writer, events []types.ChangeEvent, cp types.Checkpoint) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(openToken + "\n")
	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			return errors.Wrap(err, "encoding feed row")
		}
		bw.Write(b)
		bw.WriteString(",\n")
	}
	bw.WriteString(closeToken + "\n")

	b, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint")
	}
	// The checkpoint object is written without its opening brace.
	bw.Write(b[1:])
	bw.WriteString("\n")
	return bw.Flush()
}

// EncodeContinuous writes events in continuous feed framing, with the
// given number of heartbeat lines after each row.
func EncodeContinuous(w io.Writer, events []types.ChangeEvent, heartbeats int) error {
	bw := bufio.NewWriter(w)
	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			return errors.Wrap(err, "encoding feed row")
		}
		bw.Write(b)
		bw.WriteString("\n")
		for i := 0; i < heartbeats; i++ {
			bw.WriteString("\n")
		}
	}
	return bw.Flush()
}
