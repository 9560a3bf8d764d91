package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"
	ErrNotPacketOwner    ErrCode = "NOT_PACKET_OWNER"
	ErrNotEnrolled       ErrCode = "NOT_ENROLLED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation       ErrCode = "VALIDATION_ERROR"
	ErrInvalidID        ErrCode = "INVALID_ID"
	ErrInvalidPayload   ErrCode = "INVALID_PAYLOAD"
	ErrInvalidJoinToken ErrCode = "INVALID_JOIN_TOKEN"
	ErrMalformedAnswers ErrCode = "MALFORMED_ANSWERS"
	ErrUnknownQuestion  ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidQuestion  ErrCode = "INVALID_QUESTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound          ErrCode = "NOT_FOUND"
	ErrPacketUnavailable ErrCode = "PACKET_UNAVAILABLE"
	ErrPacketNotFound    ErrCode = "PACKET_NOT_FOUND"
	ErrQuestionNotFound  ErrCode = "QUESTION_NOT_FOUND"
	ErrSessionNotFound   ErrCode = "SESSION_NOT_FOUND"

	// ─── Conflict ──────────────────────────────────────────────────────
	ErrSessionFinished ErrCode = "SESSION_FINISHED"
	ErrTokenExhausted  ErrCode = "JOIN_TOKEN_EXHAUSTED"

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
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrTeacherAccessOnly:
		return "Sumber daya ini terbatas untuk guru dan administrator."
	case ErrNotPacketOwner:
		return "Anda bukan pemilik paket soal ini."
	case ErrNotEnrolled:
		return "Anda belum memulai ujian untuk paket ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidJoinToken:
		return "Token ujian wajib diisi."
	case ErrMalformedAnswers:
		return "Format jawaban tidak valid."
	case ErrUnknownQuestion:
		return "Jawaban merujuk soal yang tidak ada di paket ini."
	case ErrInvalidQuestion:
		return "Data soal tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrPacketUnavailable:
		return "Token tidak valid atau ujian belum dibuka."
	case ErrPacketNotFound:
		return "Paket soal tidak ditemukan."
	case ErrQuestionNotFound:
		return "Soal tidak ditemukan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."

	// ─── Conflict ──────────────────────────────────────────────────────
	case ErrSessionFinished:
		return "Sesi ujian sudah selesai."
	case ErrTokenExhausted:
		return "Gagal membuat token ujian unik. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
