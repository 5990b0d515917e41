package sender

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"github.com/vitalis-app/telemetry-agent/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeSnapshots produces the JSON array that is both sent and buffered.
func encodeSnapshots(batch models.Batch) ([]byte, error) {
	return json.Marshal([]models.MetricSnapshot(batch))
}

func encodeEnvelope(token string, metrics []byte) ([]byte, error) {
	return json.Marshal(models.IngestPayload{MachineToken: token, Metrics: metrics})
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
