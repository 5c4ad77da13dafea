package store

import (
	"context"
	"errors"
	"net"

	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"
)

// IsConnectivityError reports whether err means the backend could not be
// reached in time, as opposed to rejecting the operation.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WrapWriteError classifies a failed insert or provisioning call
func WrapWriteError(collection string, err error) error {
	if err == nil || apierrors.IsStorageError(err) {
		return err
	}
	if IsConnectivityError(err) {
		return apierrors.Connection("backend unreachable writing to "+collection, err).
			WithDetail("collection", collection)
	}
	return apierrors.StorageWrite(collection, err)
}

// WrapQueryError classifies a failed read
func WrapQueryError(collection string, err error) error {
	if err == nil || apierrors.IsStorageError(err) {
		return err
	}
	if IsConnectivityError(err) {
		return apierrors.Connection("backend unreachable querying "+collection, err).
			WithDetail("collection", collection)
	}
	return apierrors.StorageQuery(collection, err)
}
