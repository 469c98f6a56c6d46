package loan

type CreateLoanReq struct {
	BookID int64 `json:"book_id" validate:"required,gt=0"`
}

type ReturnLoanReq struct {
	Condition string `json:"condition" validate:"required"`
}
