package source

import (
	"strings"

	"escrowflow/internal/models"
)

const logLinePrefix = "Program log: "

// ExtractRecords разбирает логи одной транзакции на записи RawLog.
//
// Запись получает каждая строка "Program log: ", выведенная самой программой
// programID (выводы CPI в чужие программы отбрасываются). LogIndex - позиция
// строки в массиве logs, InstructionIndex - номер инструкции верхнего уровня.
// Результат детерминирован: повторная доставка той же транзакции даёт те же
// event_id.
func ExtractRecords(programID, signature string, slot uint64, commitment models.Commitment, logs []string) []models.RawLog {
	var (
		records []models.RawLog
		stack   []string
		topIx   = -1
	)

	for i, line := range logs {
		if strings.HasPrefix(line, logLinePrefix) {
			if programID != "" && (len(stack) == 0 || stack[len(stack)-1] != programID) {
				continue
			}
			records = append(records, models.RawLog{
				Signature:        signature,
				Slot:             slot,
				InstructionIndex: uint32(max(topIx, 0)),
				LogIndex:         uint32(i),
				Commitment:       commitment,
				Payload:          line,
			})
			continue
		}

		program, rest, ok := runtimeLine(line)
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(rest, "invoke ["):
			if rest == "invoke [1]" {
				topIx++
				stack = stack[:0]
			}
			stack = append(stack, program)
		case rest == "success" || strings.HasPrefix(rest, "failed"):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return records
}

// runtimeLine разбирает строки вида "Program <id> <rest>"
func runtimeLine(line string) (program, rest string, ok bool) {
	body, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return "", "", false
	}
	program, rest, ok = strings.Cut(body, " ")
	if !ok || strings.HasSuffix(program, ":") {
		// "Program log:", "Program data:", "Program return:"
		return "", "", false
	}
	return program, rest, true
}
