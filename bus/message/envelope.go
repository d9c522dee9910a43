package message

// Envelope — транспортное представление сообщения: идентичность, адрес
// назначения, сериализованное тело и метаданные (контекст трассировки и т.п.).
type Envelope struct {
	Identity    Identity          `json:"identity"`
	Destination string            `json:"destination"`
	Payload     []byte            `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageIdentity реализует интерфейс Identified.
func (e Envelope) MessageIdentity() Identity {
	return e.Identity
}
