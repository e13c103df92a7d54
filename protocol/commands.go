package protocol

// Backend mount points. Every process is served as <mount>/<process>.json.
const (
	MountCpay = "cpay"
	MountEpcc = "epcc"
)

// Process names understood by the backend.
const (
	ProcessQueryCpayTotalError = "queryCpayTotalErrorProcess"
	ProcessHandleCpayError     = "handlerCpayErrorProcess"

	ProcessQueryTodoList      = "queryTodoListProcess"
	ProcessAddTodo            = "addTodoProcess"
	ProcessUpdateTodo         = "updateTodoProcess"
	ProcessToggleTodo         = "toggleTodoProcess"
	ProcessDeleteTodo         = "deleteTodoProcess"
	ProcessClearCompletedTodo = "clearCompletedTodoProcess"
)

// CpayProcesses lists the processes mounted under MountCpay.
// Everything else lives under MountEpcc.
func CpayProcesses() []string {
	return []string{ProcessQueryCpayTotalError, ProcessHandleCpayError}
}
