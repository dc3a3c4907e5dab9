package controlplane

import (
	"sync"

	"github.com/fentz26/timebook/internal/models"
)

// TodoAccountPrefix prefixes the account created for each new todo.
const TodoAccountPrefix = "todo-"

// TodoList holds the todos. Mutations are made by the Service on the engine
// goroutine; reads may come from anywhere.
type TodoList struct {
	mu    sync.RWMutex
	todos []models.Todo
}

// NewTodoList creates an empty list.
func NewTodoList() *TodoList {
	return &TodoList{}
}

// List returns a copy in display order.
func (l *TodoList) List() []models.Todo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Todo, len(l.todos))
	copy(out, l.todos)
	return out
}

// Get returns the todo with id.
func (l *TodoList) Get(id string) (models.Todo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.todos {
		if t.ID == id {
			return t, true
		}
	}
	return models.Todo{}, false
}

// Label resolves the display name of an account: the text of the todo bound
// to it, or the account name itself.
func (l *TodoList) Label(accountID string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, t := range l.todos {
		if t.AccountID == accountID {
			return t.Text
		}
	}
	return accountID
}

// BoundTo returns the todos bound to accountID.
func (l *TodoList) BoundTo(accountID string) []models.Todo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Todo
	for _, t := range l.todos {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// Subtree returns id and all its descendants, parents first.
func (l *TodoList) Subtree(id string) []models.Todo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Todo
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range l.todos {
			if t.ID == cur {
				out = append(out, t)
			}
			if t.ParentID == cur && !seen[t.ID] {
				seen[t.ID] = true
				queue = append(queue, t.ID)
			}
		}
	}
	return out
}

func (l *TodoList) add(t models.Todo) {
	l.mu.Lock()
	l.todos = append(l.todos, t)
	l.mu.Unlock()
}

func (l *TodoList) update(id string, fn func(*models.Todo)) (models.Todo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.todos {
		if l.todos[i].ID == id {
			fn(&l.todos[i])
			return l.todos[i], true
		}
	}
	return models.Todo{}, false
}

func (l *TodoList) remove(ids map[string]bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.todos[:0]
	for _, t := range l.todos {
		if !ids[t.ID] {
			kept = append(kept, t)
		}
	}
	l.todos = kept
}

func (l *TodoList) retarget(oldAccount, newAccount string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.todos {
		if l.todos[i].AccountID == oldAccount {
			l.todos[i].AccountID = newAccount
		}
	}
}

func (l *TodoList) replace(todos []models.Todo) {
	l.mu.Lock()
	l.todos = append([]models.Todo(nil), todos...)
	l.mu.Unlock()
}
