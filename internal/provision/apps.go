package provision

import (
	"context"
	"fmt"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/templates"
)

const (
	webRoot           = "/var/www/html"
	appDir            = "/opt/myapp"
	mysqlPasswordPath = "/root/.mysql_root_password"
	pgPasswordPath    = "/root/.postgresql_password"
)

// DefaultRegistry returns the built-in applications.
func DefaultRegistry() *Registry {
	return NewRegistry(
		App{Kind: config.AppNginx, Install: installNginx, Configure: configureNginx, Image: "nginx:latest", Port: 80},
		App{Kind: config.AppApache, Install: installApache, Configure: configureApache, Image: "httpd:latest", Port: 80},
		App{Kind: config.AppMySQL, Install: installMySQL, Configure: configureMySQL, Image: "mysql:8.0", Port: 3306, ContainerEnv: "MYSQL_ROOT_PASSWORD"},
		App{Kind: config.AppPostgreSQL, Install: installPostgreSQL, Configure: configurePostgreSQL, Image: "postgres:16", Port: 5432, ContainerEnv: "POSTGRES_PASSWORD"},
		App{Kind: config.AppPHP, Install: installPHP, Configure: configurePHP, Image: "php:apache", Port: 80},
		App{Kind: config.AppNodeJS, Install: installNodeJS, Configure: configureNodeJS, Image: "node:lts", Port: 3000},
		App{Kind: config.AppPython, Install: installPython, Configure: configurePython, Image: "python:3", Port: 5000},
	)
}

func installNginx(ctx context.Context, env *Env) error {
	if err := env.Host.Install(ctx, "nginx"); err != nil {
		return err
	}
	return env.Host.EnableNow(ctx, "nginx")
}

func configureNginx(ctx context.Context, env *Env) error {
	site := "/etc/nginx/conf.d/default.conf"
	if env.debian() {
		site = "/etc/nginx/sites-available/default"
	}
	data, err := templates.Render(templates.NginxSite, templates.Site{
		DocumentRoot: webRoot,
		PHP:          env.debian() && env.Config.HasApp(config.AppPHP),
	})
	if err != nil {
		return err
	}
	if err := env.Host.WriteFile(site, data, 0644); err != nil {
		return err
	}
	if err := env.Host.Run(ctx, "nginx", "-t"); err != nil {
		return err
	}
	return env.Host.Reload(ctx, "nginx")
}

func apacheService(env *Env) string {
	if env.debian() {
		return "apache2"
	}
	return "httpd"
}

func installApache(ctx context.Context, env *Env) error {
	svc := apacheService(env)
	if err := env.Host.Install(ctx, svc); err != nil {
		return err
	}
	return env.Host.EnableNow(ctx, svc)
}

func configureApache(ctx context.Context, env *Env) error {
	site := templates.Site{DocumentRoot: webRoot, LogDir: "logs"}
	path := "/etc/httpd/conf.d/000-default.conf"
	if env.debian() {
		site.LogDir = "${APACHE_LOG_DIR}"
		path = "/etc/apache2/sites-available/000-default.conf"
	}
	data, err := templates.Render(templates.ApacheSite, site)
	if err != nil {
		return err
	}
	if err := env.Host.WriteFile(path, data, 0644); err != nil {
		return err
	}
	return env.Host.Reload(ctx, apacheService(env))
}

func mysqlService(env *Env) string {
	if env.debian() {
		return "mysql"
	}
	return "mysqld"
}

func installMySQL(ctx context.Context, env *Env) error {
	if err := env.Host.Install(ctx, "mysql-server"); err != nil {
		return err
	}
	return env.Host.EnableNow(ctx, mysqlService(env))
}

// configureMySQL sets a generated root password and removes the anonymous
// users and test database. A host that already has the password file was
// secured by an earlier run.
func configureMySQL(ctx context.Context, env *Env) error {
	if env.Host.Exists(mysqlPasswordPath) {
		return nil
	}
	pw, err := env.Secrets(passwordLength)
	if err != nil {
		return err
	}
	if err := env.Host.WriteFile(mysqlPasswordPath, []byte(pw+"\n"), 0600); err != nil {
		return err
	}
	sql := fmt.Sprintf("ALTER USER 'root'@'localhost' IDENTIFIED BY '%s'; "+
		"DELETE FROM mysql.user WHERE User=''; "+
		"DROP DATABASE IF EXISTS test; "+
		"FLUSH PRIVILEGES;", pw)
	return env.Host.Run(ctx, "mysql", "-u", "root", "-e", sql)
}

func installPostgreSQL(ctx context.Context, env *Env) error {
	h := env.Host
	if env.debian() {
		if err := h.Install(ctx, "postgresql", "postgresql-contrib"); err != nil {
			return err
		}
	} else {
		if err := h.Install(ctx, "postgresql-server", "postgresql-contrib"); err != nil {
			return err
		}
		if !h.Exists("/var/lib/pgsql/data/PG_VERSION") {
			if err := h.Run(ctx, "postgresql-setup", "--initdb"); err != nil {
				return err
			}
		}
	}
	return h.EnableNow(ctx, "postgresql")
}

func configurePostgreSQL(ctx context.Context, env *Env) error {
	if env.Host.Exists(pgPasswordPath) {
		return nil
	}
	pw, err := env.Secrets(passwordLength)
	if err != nil {
		return err
	}
	if err := env.Host.WriteFile(pgPasswordPath, []byte(pw+"\n"), 0600); err != nil {
		return err
	}
	sql := fmt.Sprintf("ALTER USER postgres PASSWORD '%s';", pw)
	return env.Host.Run(ctx, "runuser", "-u", "postgres", "--", "psql", "-c", sql)
}

func installPHP(ctx context.Context, env *Env) error {
	if !env.debian() {
		if err := env.Host.Install(ctx, "php", "php-fpm", "php-mysqlnd"); err != nil {
			return err
		}
		return env.Host.EnableNow(ctx, "php-fpm")
	}
	pkgs := []string{"php", "php-fpm", "php-mysql"}
	if env.Config.HasApp(config.AppApache) {
		pkgs = append(pkgs, "libapache2-mod-php")
	}
	return env.Host.Install(ctx, pkgs...)
}

func configurePHP(ctx context.Context, env *Env) error {
	data, err := templates.Render(templates.SamplePHP, nil)
	if err != nil {
		return err
	}
	return env.Host.WriteFile(webRoot+"/index.php", data, 0644)
}

func installNodeJS(ctx context.Context, env *Env) error {
	if err := env.Host.Install(ctx, "nodejs", "npm"); err != nil {
		return err
	}
	return env.Host.Run(ctx, "npm", "install", "-g", "pm2")
}

func configureNodeJS(ctx context.Context, env *Env) error {
	data, err := templates.Render(templates.SampleNode, nil)
	if err != nil {
		return err
	}
	script := appDir + "/app.js"
	if err := env.Host.WriteFile(script, data, 0644); err != nil {
		return err
	}
	return env.Host.Run(ctx, "pm2", "start", env.Host.Path(script), "--name", "myapp")
}

func installPython(ctx context.Context, env *Env) error {
	pkgs := []string{"python3", "python3-pip"}
	if env.debian() {
		pkgs = append(pkgs, "python3-venv")
	}
	if err := env.Host.Install(ctx, pkgs...); err != nil {
		return err
	}
	venv := env.Host.Path(appDir + "/venv")
	if err := env.Host.Run(ctx, "python3", "-m", "venv", venv); err != nil {
		return err
	}
	return env.Host.Run(ctx, venv+"/bin/pip", "install", "flask")
}

func configurePython(ctx context.Context, env *Env) error {
	data, err := templates.Render(templates.SamplePython, nil)
	if err != nil {
		return err
	}
	return env.Host.WriteFile(appDir+"/app.py", data, 0644)
}
