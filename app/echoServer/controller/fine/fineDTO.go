package fine

type WaiveFineReq struct {
	Reason string `json:"reason" validate:"required"`
}
