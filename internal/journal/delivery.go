package journal

import (
	"encoding/json"
	"fmt"
)

// DeliveryResult records the outcome of sending one key to one downstream
// service. Written as a JSON line keyed by the key value.
type DeliveryResult struct {
	Key     string `json:"key"`
	Service string `json:"service"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Time    string `json:"time"`
	RunID   string `json:"run_id"`
}

// RecordDelivery appends one delivery result per key to the delivery log.
func (j *Journal) RecordDelivery(service string, keys []string, ok bool, reason string) error {
	if len(keys) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clk.Now().Format("2006-01-02 15:04:05")
	var body []byte
	for _, key := range keys {
		line, err := json.Marshal(DeliveryResult{
			Key:     key,
			Service: service,
			OK:      ok,
			Reason:  reason,
			Time:    now,
			RunID:   j.runID,
		})
		if err != nil {
			return fmt.Errorf("marshal delivery result: %w", err)
		}
		body = append(body, line...)
		body = append(body, '\n')
	}
	return appendFile(j.deliveryPath, string(body))
}
