package book

type CreateBookReq struct {
	Title    string  `json:"title" validate:"required"`
	Author   string  `json:"author" validate:"required"`
	Category string  `json:"category"`
	Value    float64 `json:"value" validate:"gte=0"`
	Copies   int     `json:"copies" validate:"gte=0"`
}

type AddCopiesReq struct {
	Count int `json:"count" validate:"required,gt=0"`
}

type RateBookReq struct {
	Rating int `json:"rating" validate:"required,gte=1,lte=5"`
}
