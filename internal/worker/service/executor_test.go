package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/pkg/engine"
	"github.com/nemanja-m/gearlink/pkg/engine/local"
	"github.com/nemanja-m/gearlink/pkg/gearlink"
)

func TestFunctionExecutor_Bind(t *testing.T) {
	eng := local.New()
	worker, err := gearlink.NewWorker(eng)
	require.NoError(t, err)
	defer worker.Close()
	require.NoError(t, worker.AddServer(local.DefaultHost, local.DefaultPort))
	worker.SetNonBlocking(true)

	exec := NewFunctionExecutor([]string{"reverse", "grep"}, 0, logging.NewNop())
	require.NoError(t, exec.Bind(worker))
	require.Equal(t, []string{"reverse", "grep"}, worker.Functions())

	client, err := gearlink.NewClient(eng)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.AddServer(local.DefaultHost, local.DefaultPort))
	client.SetNonBlocking(true)

	results := map[string]string{}
	require.NoError(t, client.SetCompleteCallback(func(task *gearlink.Task) engine.Status {
		name, _ := task.FunctionName()
		data, _ := task.TakeData()
		results[name] = string(data)
		return engine.StatusSuccess
	}))
	var exceptions []string
	require.NoError(t, client.SetExceptionCallback(func(task *gearlink.Task) engine.Status {
		data, _ := task.TakeData()
		exceptions = append(exceptions, string(data))
		return engine.StatusSuccess
	}))

	_, err = client.AddTask("reverse", []byte("abc"))
	require.NoError(t, err)
	_, err = client.AddTask("grep", []byte("no pattern line"))
	require.NoError(t, err)
	_, err = client.RunTasks()
	require.NoError(t, err)

	status, err := worker.Work()
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuccess, status)
	status, err = worker.Work()
	require.NoError(t, err)
	require.Equal(t, engine.StatusWorkFail, status)

	status, err = client.RunTasks()
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuccess, status)
	require.Equal(t, map[string]string{"reverse": "cba"}, results)
	require.Equal(t, []string{"grep: missing pattern line"}, exceptions)
}

func TestFunctionExecutor_BindErrors(t *testing.T) {
	worker, err := gearlink.NewWorker(local.New())
	require.NoError(t, err)
	defer worker.Close()

	err = NewFunctionExecutor([]string{"missing"}, 0, logging.NewNop()).Bind(worker)
	require.EqualError(t, err, "function not found: missing")

	exec := NewFunctionExecutor([]string{"upper", "upper"}, 0, logging.NewNop())
	err = exec.Bind(worker)
	require.Equal(t, engine.StatusInvalidFunctionName, gearlink.StatusOf(err))
	require.Equal(t, []string{"upper"}, worker.Functions())
}
