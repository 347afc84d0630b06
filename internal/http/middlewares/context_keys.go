package middlewares

// Keys handlers and middlewares share on the gin context.
const (
	CtxRequestID     = "ctx.request_id"
	CtxApplicationID = "ctx.application_id"
)
