package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrTestNotAvailable   ErrCode = "TEST_NOT_AVAILABLE"
	ErrAttemptLimit       ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrNoOpenAttempt      ErrCode = "NO_OPEN_ATTEMPT"
	ErrAlreadyExpired     ErrCode = "ALREADY_EXPIRED"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrAnswerShapeInvalid ErrCode = "ANSWER_SHAPE_INVALID"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Cần có mã xác thực."
	case ErrTokenInvalid:
		return "Mã xác thực không hợp lệ."
	case ErrTokenExpired:
		return "Mã xác thực đã hết hạn."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Chỉ học sinh mới được truy cập tài nguyên này."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Dữ liệu không hợp lệ. Vui lòng kiểm tra lại."
	case ErrInvalidID:
		return "Định dạng ID không hợp lệ."
	case ErrInvalidPayload:
		return "Nội dung yêu cầu không hợp lệ."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Không tìm thấy tài nguyên."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrTestNotAvailable:
		return "Bài kiểm tra hiện không khả dụng."
	case ErrAttemptLimit:
		return "Bạn đã làm quá số lần cho phép"
	case ErrNoOpenAttempt:
		return "Không có lượt làm bài nào đang mở."
	case ErrAlreadyExpired:
		return "Lượt làm bài này đã hết thời gian."
	case ErrUnknownQuestion:
		return "Câu hỏi không thuộc bài kiểm tra này."
	case ErrAnswerShapeInvalid:
		return "Câu trả lời không khớp với loại câu hỏi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Quá nhiều yêu cầu. Vui lòng thử lại sau."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Đã xảy ra lỗi máy chủ."
	default:
		return "Đã xảy ra lỗi không mong muốn."
	}
}
