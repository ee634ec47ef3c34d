package models

// RawLog одна строка лога программы, полученная от источника.
// Payload - текст строки целиком ("Program log: {...}").
type RawLog struct {
	Signature        string
	Slot             uint64
	InstructionIndex uint32
	LogIndex         uint32
	Commitment       Commitment
	Payload          string
}

// EventID идентификатор события, которое получится из этой строки
func (r RawLog) EventID() string {
	return BuildEventID(r.Signature, r.InstructionIndex, r.LogIndex)
}
