package domain

import "errors"

var (
	// ErrValidation sinaliza entrada inválida (listing inexistente/inativo, auto-compra, status malformado).
	ErrValidation = errors.New("sale: invalid input")
	// ErrNotFound indica que a venda não existe.
	ErrNotFound = errors.New("sale: not found")
	// ErrAuthorization indica que o ator não é comprador nem vendedor da venda.
	ErrAuthorization = errors.New("sale: actor is not a participant")
	// ErrStateTransition indica uma transição de status ilegal.
	ErrStateTransition = errors.New("sale: invalid status transition")
	// ErrReconciliation indica que nenhum evento pôde ser correlacionado a uma venda.
	ErrReconciliation = errors.New("sale: event could not be reconciled")
	// ErrTransactionConflict indica tentativa de religar a venda a outra transação.
	ErrTransactionConflict = errors.New("sale: already linked to a different transaction")
	// ErrSideEffect marks failures of best-effort collaborators (chat, notifications).
	ErrSideEffect = errors.New("sale: side effect failed")
)
