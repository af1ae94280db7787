package protocol

// Sender delivers encoded messages to one client. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(data []byte) error
}

// SendBytes frames payload with t and sends it.
func SendBytes(s Sender, t MessageType, payload []byte) error {
	return s.Send(Encode(t, payload))
}

// SendJSON marshals v, frames it with t and sends it.
func SendJSON(s Sender, t MessageType, v any) error {
	data, err := EncodeJSON(t, v)
	if err != nil {
		return err
	}
	return s.Send(data)
}

// SendError sends an ERROR message.
func SendError(s Sender, code string, err error) error {
	return SendJSON(s, Error, ErrorPayload{Error: err.Error(), Code: code})
}

// SendStatus sends a SERVER_STATUS message.
func SendStatus(s Sender, status string) error {
	return SendJSON(s, ServerStatus, StatusPayload{Status: status})
}

// SendProgress sends a PROGRESS_UPDATE message.
func SendProgress(s Sender, step string, progress int) error {
	return SendJSON(s, ProgressUpdate, ProgressPayload{Step: step, Progress: progress})
}
