package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/ytakahashi/firetodo/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const todosCollection = "todos"

var (
	ErrTodoNotFound = errors.New("todo not found")
	ErrNotOwner     = errors.New("todo belongs to another user")
)

type FirestoreService struct {
	client *firestore.Client
	log    *slog.Logger
}

func NewFirestoreService(ctx context.Context, projectID string, log *slog.Logger) (*FirestoreService, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreService{
		client: client,
		log:    log,
	}, nil
}

func (fs *FirestoreService) Close() error {
	return fs.client.Close()
}

func (fs *FirestoreService) todos() *firestore.CollectionRef {
	return fs.client.Collection(todosCollection)
}

func (fs *FirestoreService) userQuery(userID string) firestore.Query {
	return fs.todos().
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc)
}

func (fs *FirestoreService) AddTodo(ctx context.Context, userID string, in models.NewTodo) (*models.Todo, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	todo := &models.Todo{
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Completed:   false,
		DueDate:     in.DueDate,
	}

	ref, _, err := fs.todos().Add(ctx, todo)
	if err != nil {
		return nil, fmt.Errorf("failed to add todo: %w", err)
	}

	todo.ID = ref.ID
	todo.CreatedAt = time.Now()
	return todo, nil
}

func updatesFor(u models.TodoUpdate) []firestore.Update {
	var updates []firestore.Update
	if u.Title != nil {
		updates = append(updates, firestore.Update{Path: "title", Value: *u.Title})
	}
	if u.Description != nil {
		updates = append(updates, firestore.Update{Path: "description", Value: *u.Description})
	}
	if u.Completed != nil {
		updates = append(updates, firestore.Update{Path: "completed", Value: *u.Completed})
	}
	if u.ClearDueDate {
		updates = append(updates, firestore.Update{Path: "dueDate", Value: firestore.Delete})
	} else if u.DueDate != nil {
		updates = append(updates, firestore.Update{Path: "dueDate", Value: *u.DueDate})
	}
	return append(updates, firestore.Update{Path: "updatedAt", Value: firestore.ServerTimestamp})
}

func (fs *FirestoreService) UpdateTodo(ctx context.Context, userID, todoID string, u models.TodoUpdate) error {
	u, err := u.Normalize()
	if err != nil {
		return err
	}

	ref := fs.todos().Doc(todoID)
	err = fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := checkOwner(tx, ref, userID); err != nil {
			return err
		}
		return tx.Update(ref, updatesFor(u))
	})
	if err != nil {
		return fmt.Errorf("failed to update todo %s: %w", todoID, err)
	}

	return nil
}

func (fs *FirestoreService) DeleteTodo(ctx context.Context, userID, todoID string) error {
	ref := fs.todos().Doc(todoID)
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := checkOwner(tx, ref, userID); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to delete todo %s: %w", todoID, err)
	}

	return nil
}

func checkOwner(tx *firestore.Transaction, ref *firestore.DocumentRef, userID string) error {
	doc, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return ErrTodoNotFound
	}
	if err != nil {
		return err
	}

	owner, err := doc.DataAt("userId")
	if err != nil {
		return fmt.Errorf("todo has no owner: %w", err)
	}
	if owner != userID {
		return ErrNotOwner
	}
	return nil
}

func (fs *FirestoreService) ListTodos(ctx context.Context, userID string) ([]models.Todo, error) {
	docs, err := fs.userQuery(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return decodeTodos(docs)
}

// SubscribeTodos delivers the caller's full todo list on every change until
// the returned function is called or ctx ends. A listener failure delivers
// an empty list and ends the subscription.
func (fs *FirestoreService) SubscribeTodos(ctx context.Context, userID string, onSnapshot func([]models.Todo)) (func(), error) {
	if userID == "" {
		return nil, errors.New("subscribe requires a user id")
	}

	ctx, cancel := context.WithCancel(ctx)
	it := fs.userQuery(userID).Snapshots(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer it.Stop()

		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err == iterator.Done {
				return
			}
			if err != nil {
				fs.log.Error("todos listener failed", "user", userID, "error", err)
				onSnapshot([]models.Todo{})
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				fs.log.Error("failed to read todos snapshot", "user", userID, "error", err)
				onSnapshot([]models.Todo{})
				return
			}

			todos, err := decodeTodos(docs)
			if err != nil {
				fs.log.Error("failed to decode todos snapshot", "user", userID, "error", err)
				onSnapshot([]models.Todo{})
				return
			}
			onSnapshot(todos)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func decodeTodos(docs []*firestore.DocumentSnapshot) ([]models.Todo, error) {
	todos := make([]models.Todo, 0, len(docs))
	for _, doc := range docs {
		var todo models.Todo
		if err := doc.DataTo(&todo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal todo %s: %w", doc.Ref.ID, err)
		}
		todo.ID = doc.Ref.ID
		if todo.CreatedAt.IsZero() {
			todo.CreatedAt = time.Now()
		}
		todos = append(todos, todo)
	}
	return todos, nil
}
