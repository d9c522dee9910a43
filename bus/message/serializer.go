package message

import "encoding/json"

// Serializer определяет контракт кодека полезной нагрузки. Ядро шины не
// привязано к конкретному формату: реализация подбирается при конфигурации.
type Serializer interface {
	// Marshal сериализует значение в байты.
	Marshal(v any) ([]byte, error)

	// Unmarshal десериализует байты в указанное значение.
	Unmarshal(data []byte, v any) error
}

// JSONSerializer — реализация Serializer поверх encoding/json.
// Используется по умолчанию.
type JSONSerializer struct{}

// Marshal сериализует значение в JSON.
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal десериализует JSON в указанное значение.
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
