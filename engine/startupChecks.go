package engine

import (
	"fmt"
	"log/slog"
	"os"
)

// StartupChecks makes sure the folders the service writes to exist
func (serverHandler *ServerHandler) StartupChecks() error {
	logger := serverHandler.Logger
	if err := directoryChecks("ingress", serverHandler.ServerConfig.IngressPath, logger); err != nil {
		return err
	}
	if err := directoryChecks("results", serverHandler.ServerConfig.ResultsPath, logger); err != nil {
		return err
	}
	if serverHandler.ServerConfig.IngressMoveFolder != "" {
		if err := directoryChecks("ingress move", serverHandler.ServerConfig.IngressMoveFolder, logger); err != nil {
			return err
		}
	}
	return nil
}

// directoryChecks ensures the directory exists, creating it if needed
func directoryChecks(name string, path string, logger *slog.Logger) error {
	if path == "" {
		logger.Warn("Path not configured", "directory", name)
		return nil
	}

	// Check if directory exists
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("Creating directory", "directory", name, "path", path)
			err = os.MkdirAll(path, 0755)
			if err != nil {
				logger.Error("Failed to create directory", "directory", name, "path", path, "error", err)
				return err
			}
			return nil
		}
		logger.Error("Error checking directory", "directory", name, "path", path, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !info.IsDir() {
		logger.Error("Path exists but is not a directory", "directory", name, "path", path)
		return fmt.Errorf("%s path is not a directory: %s", name, path)
	}

	logger.Info("Directory exists", "directory", name, "path", path)
	return nil
}
