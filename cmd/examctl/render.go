package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/session"
)

type op int

const (
	opShow op = iota + 1
	opNext
	opPrev
	opGoto
	opChoose
	opText
	opClear
	opSave
	opHide
	opOpen
	opReload
	opSubmit
	opQuit
	opHelp
)

type command struct {
	op   op
	n    int
	text string
}

const helpText = `Lệnh:
  n / p          câu sau / câu trước
  g <số>         tới câu <số>
  a <id>         chọn đáp án (câu nhiều lựa chọn: bật/tắt)
  t <nội dung>   trả lời tự luận
  c              xoá câu trả lời
  save           lưu ngay
  hide           giả lập rời khỏi cửa sổ
  open           mở mô phỏng của câu hiện tại
  reload         tải lại mô phỏng
  submit         nộp bài
  show           hiện câu hiện tại
  q              thoát (bài làm được lưu)
`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{op: opShow}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "n", "next":
		return command{op: opNext}, nil
	case "p", "prev":
		return command{op: opPrev}, nil
	case "g", "goto":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return command{}, fmt.Errorf("g cần số câu, ví dụ: g 3")
		}
		return command{op: opGoto, n: n}, nil
	case "a", "answer":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return command{}, fmt.Errorf("a cần mã đáp án, ví dụ: a 12")
		}
		return command{op: opChoose, n: n}, nil
	case "t", "text":
		return command{op: opText, text: rest}, nil
	case "c", "clear":
		return command{op: opClear}, nil
	case "save":
		return command{op: opSave}, nil
	case "hide":
		return command{op: opHide}, nil
	case "o", "open":
		return command{op: opOpen}, nil
	case "reload":
		return command{op: opReload}, nil
	case "submit":
		return command{op: opSubmit}, nil
	case "show", "s":
		return command{op: opShow}, nil
	case "q", "quit", "exit":
		return command{op: opQuit}, nil
	case "h", "help", "?":
		return command{op: opHelp}, nil
	default:
		return command{}, fmt.Errorf("lệnh không hợp lệ %q, gõ help để xem danh sách", verb)
	}
}

// formatClock renders seconds as mm:ss, or h:mm:ss past an hour. Negative
// values render as 00:00.
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func renderQuestion(w io.Writer, v session.View, q model.Question, a model.Answer) {
	fmt.Fprintf(w, "\n%s  ·  còn %s  ·  đã làm %d/%d\n", v.Title, formatClock(v.RemainingSeconds), v.Answered, v.QuestionCount)
	fmt.Fprintf(w, "Câu %d/%d: %s\n", v.ActiveIndex+1, v.QuestionCount, q.Content)

	for _, c := range q.Choices {
		mark := " "
		if selected(a, c.ID) {
			mark = "x"
		}
		fmt.Fprintf(w, "  [%s] %d. %s\n", mark, c.ID, c.Content)
	}
	if t, ok := a.(model.TextAnswer); ok {
		if t.IsEmpty() {
			fmt.Fprintln(w, "  (chưa trả lời)")
		} else {
			fmt.Fprintf(w, "  > %s\n", t.Text)
		}
	}
	if q.HasSimulation() {
		fmt.Fprintf(w, "  Mô phỏng: %s\n", q.Simulation.ToolName)
	}
	if v.Save.Failing() {
		fmt.Fprintf(w, "  ! Lưu tự động lỗi: %s\n", v.Save.LastError)
	}
}

func selected(a model.Answer, id model.ChoiceID) bool {
	switch v := a.(type) {
	case model.SingleAnswer:
		return v.Selected && v.Choice == id
	case model.MultiAnswer:
		return v.Has(id)
	default:
		return false
	}
}
