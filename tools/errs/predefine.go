package errs

const (
	ServerInternalError = 500

	// hub frame / connection errors
	IdentityUnresolvedError     = 1001
	InvalidFrameError           = 1002
	PersistenceFailureError     = 1003
	AttachmentWriteFailureError = 1004
	LivenessTimeoutError        = 1005
	SlowConsumerError           = 1006

	TokenInvalidError = 1101
	TokenMissingError = 1102
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")

	ErrIdentityUnresolved     = NewCodeError(IdentityUnresolvedError, "IdentityUnresolved")
	ErrInvalidFrame           = NewCodeError(InvalidFrameError, "InvalidFrame")
	ErrPersistenceFailure     = NewCodeError(PersistenceFailureError, "PersistenceFailure")
	ErrAttachmentWriteFailure = NewCodeError(AttachmentWriteFailureError, "AttachmentWriteFailure")
	ErrLivenessTimeout        = NewCodeError(LivenessTimeoutError, "LivenessTimeout")
	ErrSlowConsumer           = NewCodeError(SlowConsumerError, "SlowConsumer")

	ErrTokenInvalid = NewCodeError(TokenInvalidError, "TokenInvalid")
	ErrTokenMissing = NewCodeError(TokenMissingError, "TokenMissing")
)

func init() {
	// an attachment that could not be stored is handled as a persistence failure
	_ = DefaultCodeRelation.Add(PersistenceFailureError, AttachmentWriteFailureError)
	_ = DefaultCodeRelation.Add(TokenInvalidError, TokenMissingError)
}
