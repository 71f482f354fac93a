package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeCartInvalidArgument      = "CART_INVALID_ARGUMENT"
	CodeCartEmptyID              = "CART_EMPTY_ID"
	CodeCartEmptyProductID       = "CART_EMPTY_PRODUCT_ID"
	CodeCartInvalidQuantity      = "CART_INVALID_QUANTITY"
	CodeCartItemNotInCart        = "CART_ITEM_NOT_IN_CART"
	CodeCartRemoveTooMany        = "CART_REMOVE_EXCEEDS_QUANTITY"
	CodeCartInvalidState         = "CART_INVALID_STATE"
	CodeCartCheckedOut           = "CART_CHECKED_OUT"
	CodeCartEmpty                = "CART_EMPTY"
	CodeCartConflict             = "CART_CONFLICT"
	CodeCartUnavailable          = "CART_UNAVAILABLE"
	CodeCartAmbiguous            = "CART_AMBIGUOUS"
	CodePopularityEmptyProductID = "POPULARITY_EMPTY_PRODUCT_ID"
	CodePopularityInvalidLimit   = "POPULARITY_INVALID_LIMIT"
)

var enUS = map[Code]string{
	CodeNotFound:                 "The requested resource was not found.",
	CodeCartInvalidArgument:      "The request is invalid.",
	CodeCartEmptyID:              "A cart id is required.",
	CodeCartEmptyProductID:       "A product id is required.",
	CodeCartInvalidQuantity:      "Quantity must be greater than zero, got {{.Quantity}}.",
	CodeCartItemNotInCart:        "Product {{.ProductID}} is not in the cart.",
	CodeCartRemoveTooMany:        "Cannot remove {{.Quantity}} of {{.ProductID}}, the cart holds {{.Held}}.",
	CodeCartInvalidState:         "The cart does not accept this command.",
	CodeCartCheckedOut:           "Cart {{.CartID}} is already checked out.",
	CodeCartEmpty:                "Cannot check out an empty cart.",
	CodeCartConflict:             "The cart changed while the command was processed. Reload and try again.",
	CodeCartUnavailable:          "The cart is temporarily unavailable. Try again shortly.",
	CodeCartAmbiguous:            "The outcome of the command is unknown. Reload the cart before retrying.",
	CodePopularityEmptyProductID: "A product id is required.",
	CodePopularityInvalidLimit:   "Limit must be between 1 and {{.Max}}.",
}

var ptBR = map[Code]string{
	CodeNotFound:                 "O recurso solicitado não foi encontrado.",
	CodeCartInvalidArgument:      "A requisição é inválida.",
	CodeCartEmptyID:              "O id do carrinho é obrigatório.",
	CodeCartEmptyProductID:       "O id do produto é obrigatório.",
	CodeCartInvalidQuantity:      "A quantidade deve ser maior que zero, recebido {{.Quantity}}.",
	CodeCartItemNotInCart:        "O produto {{.ProductID}} não está no carrinho.",
	CodeCartRemoveTooMany:        "Não é possível remover {{.Quantity}} de {{.ProductID}}, o carrinho contém {{.Held}}.",
	CodeCartInvalidState:         "O carrinho não aceita este comando.",
	CodeCartCheckedOut:           "O carrinho {{.CartID}} já foi finalizado.",
	CodeCartEmpty:                "Não é possível finalizar um carrinho vazio.",
	CodeCartConflict:             "O carrinho mudou durante o processamento. Recarregue e tente novamente.",
	CodeCartUnavailable:          "O carrinho está temporariamente indisponível. Tente novamente em instantes.",
	CodeCartAmbiguous:            "O resultado do comando é desconhecido. Recarregue o carrinho antes de tentar novamente.",
	CodePopularityEmptyProductID: "O id do produto é obrigatório.",
	CodePopularityInvalidLimit:   "O limite deve estar entre 1 e {{.Max}}.",
}
